package account

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"audit-enrich/internal/backoff"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"
)

// OrganizationsAPI 는 organizations.Client 중 OrgDirectory 가 쓰는 부분 (read-only).
type OrganizationsAPI interface {
	DescribeAccount(ctx context.Context, in *organizations.DescribeAccountInput, optFns ...func(*organizations.Options)) (*organizations.DescribeAccountOutput, error)
	ListTagsForResource(ctx context.Context, in *organizations.ListTagsForResourceInput, optFns ...func(*organizations.Options)) (*organizations.ListTagsForResourceOutput, error)
	ListParents(ctx context.Context, in *organizations.ListParentsInput, optFns ...func(*organizations.Options)) (*organizations.ListParentsOutput, error)
	DescribeOrganizationalUnit(ctx context.Context, in *organizations.DescribeOrganizationalUnitInput, optFns ...func(*organizations.Options)) (*organizations.DescribeOrganizationalUnitOutput, error)
	DescribeOrganization(ctx context.Context, in *organizations.DescribeOrganizationInput, optFns ...func(*organizations.Options)) (*organizations.DescribeOrganizationOutput, error)
}

// DirectoryEntry 는 원격 디렉터리에서 읽은 계정 원본 정보. 분류/우선순위 적용 전 값이다.
type DirectoryEntry struct {
	AccountID          string
	Name               string
	Status             string
	Tags               map[string]string
	OrganizationalUnit string
	OrganizationID     string
}

// 재시도해도 결과가 바뀌지 않는 오류 코드.
var permanentCodes = map[string]struct{}{
	"AccountNotFoundException":          {},
	"AccessDeniedException":             {},
	"AWSOrganizationsNotInUseException": {},
	"InvalidInputException":             {},
}

// OrgDirectory
//
// AWS Organizations 조회. 한 번의 Lookup 이 하나의 "원격 조회 시퀀스" 이며,
// 재시도는 Resolver 가 시퀀스 단위로 한다.
//
//   - DescribeAccount / ListTagsForResource 실패는 Lookup 실패
//   - OU / organization ID 조회는 best-effort (실패해도 빈 값으로 진행)
type OrgDirectory struct {
	api        OrganizationsAPI
	orgContext bool

	orgMu sync.Mutex
	orgID string
}

func NewOrgDirectory(api OrganizationsAPI, withOrgContext bool) *OrgDirectory {
	return &OrgDirectory{api: api, orgContext: withOrgContext}
}

func (d *OrgDirectory) Lookup(ctx context.Context, accountID string) (DirectoryEntry, error) {
	out, err := d.api.DescribeAccount(ctx, &organizations.DescribeAccountInput{
		AccountId: aws.String(accountID),
	})
	if err != nil {
		return DirectoryEntry{}, classifyErr(fmt.Errorf("describe account %s: %w", accountID, err))
	}

	e := DirectoryEntry{AccountID: accountID}
	if out.Account != nil {
		e.Name = aws.ToString(out.Account.Name)
		e.Status = string(out.Account.Status)
	}

	tags, err := d.listTags(ctx, accountID)
	if err != nil {
		return DirectoryEntry{}, classifyErr(fmt.Errorf("list tags %s: %w", accountID, err))
	}
	e.Tags = tags

	if d.orgContext {
		e.OrganizationalUnit = d.parentOU(ctx, accountID)
		e.OrganizationID = d.organizationID(ctx)
	}
	return e, nil
}

func (d *OrgDirectory) listTags(ctx context.Context, accountID string) (map[string]string, error) {
	tags := make(map[string]string)
	p := organizations.NewListTagsForResourcePaginator(d.api, &organizations.ListTagsForResourceInput{
		ResourceId: aws.String(accountID),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, t := range page.Tags {
			tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
		}
	}
	return tags, nil
}

// parentOU 는 직계 부모가 OU 일 때 그 이름을 반환한다. root 바로 아래 계정이면 빈 값.
func (d *OrgDirectory) parentOU(ctx context.Context, accountID string) string {
	out, err := d.api.ListParents(ctx, &organizations.ListParentsInput{
		ChildId: aws.String(accountID),
	})
	if err != nil {
		log.Debug().Err(err).Str("account_id", accountID).Msg("list parents failed")
		return ""
	}
	for _, p := range out.Parents {
		if p.Type != types.ParentTypeOrganizationalUnit {
			continue
		}
		ou, err := d.api.DescribeOrganizationalUnit(ctx, &organizations.DescribeOrganizationalUnitInput{
			OrganizationalUnitId: p.Id,
		})
		if err != nil || ou.OrganizationalUnit == nil {
			log.Debug().Err(err).Str("ou_id", aws.ToString(p.Id)).Msg("describe ou failed")
			return aws.ToString(p.Id)
		}
		return aws.ToString(ou.OrganizationalUnit.Name)
	}
	return ""
}

// organizationID 는 프로세스 수명 동안 바뀌지 않으므로 한 번 성공하면 기억해 둔다.
func (d *OrgDirectory) organizationID(ctx context.Context) string {
	d.orgMu.Lock()
	defer d.orgMu.Unlock()
	if d.orgID != "" {
		return d.orgID
	}

	out, err := d.api.DescribeOrganization(ctx, &organizations.DescribeOrganizationInput{})
	if err != nil || out.Organization == nil {
		log.Debug().Err(err).Msg("describe organization failed")
		return ""
	}
	d.orgID = aws.ToString(out.Organization.Id)
	return d.orgID
}

func classifyErr(err error) error {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		if _, ok := permanentCodes[ae.ErrorCode()]; ok {
			return backoff.Permanent(err)
		}
	}
	return err
}
