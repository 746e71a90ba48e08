package account

import (
	"context"
	"errors"
	"testing"

	"audit-enrich/internal/backoff"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrganizations struct {
	describeErr error
	parentsErr  error
	tagPages    [][]types.Tag
	orgCalls    int
	tagCalls    int
}

func (f *fakeOrganizations) DescribeAccount(ctx context.Context, in *organizations.DescribeAccountInput, _ ...func(*organizations.Options)) (*organizations.DescribeAccountOutput, error) {
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	return &organizations.DescribeAccountOutput{Account: &types.Account{
		Id:     in.AccountId,
		Name:   aws.String("prod-main"),
		Status: types.AccountStatusActive,
	}}, nil
}

func (f *fakeOrganizations) ListTagsForResource(ctx context.Context, in *organizations.ListTagsForResourceInput, _ ...func(*organizations.Options)) (*organizations.ListTagsForResourceOutput, error) {
	page := f.tagCalls
	f.tagCalls++
	out := &organizations.ListTagsForResourceOutput{}
	if page < len(f.tagPages) {
		out.Tags = f.tagPages[page]
	}
	if page+1 < len(f.tagPages) {
		out.NextToken = aws.String("next")
	}
	return out, nil
}

func (f *fakeOrganizations) ListParents(ctx context.Context, in *organizations.ListParentsInput, _ ...func(*organizations.Options)) (*organizations.ListParentsOutput, error) {
	if f.parentsErr != nil {
		return nil, f.parentsErr
	}
	return &organizations.ListParentsOutput{Parents: []types.Parent{
		{Id: aws.String("ou-abcd-11111111"), Type: types.ParentTypeOrganizationalUnit},
	}}, nil
}

func (f *fakeOrganizations) DescribeOrganizationalUnit(ctx context.Context, in *organizations.DescribeOrganizationalUnitInput, _ ...func(*organizations.Options)) (*organizations.DescribeOrganizationalUnitOutput, error) {
	return &organizations.DescribeOrganizationalUnitOutput{OrganizationalUnit: &types.OrganizationalUnit{
		Id:   in.OrganizationalUnitId,
		Name: aws.String("Workloads"),
	}}, nil
}

func (f *fakeOrganizations) DescribeOrganization(ctx context.Context, in *organizations.DescribeOrganizationInput, _ ...func(*organizations.Options)) (*organizations.DescribeOrganizationOutput, error) {
	f.orgCalls++
	return &organizations.DescribeOrganizationOutput{Organization: &types.Organization{
		Id: aws.String("o-exampleorg"),
	}}, nil
}

func TestOrgDirectory_Lookup(t *testing.T) {
	api := &fakeOrganizations{tagPages: [][]types.Tag{
		{{Key: aws.String("Environment"), Value: aws.String("production")}},
		{{Key: aws.String("CostCenter"), Value: aws.String("cc-100")}},
	}}
	d := NewOrgDirectory(api, true)

	e, err := d.Lookup(context.Background(), "111111111111")
	require.NoError(t, err)
	assert.Equal(t, "prod-main", e.Name)
	assert.Equal(t, "ACTIVE", e.Status)
	assert.Equal(t, map[string]string{"Environment": "production", "CostCenter": "cc-100"}, e.Tags)
	assert.Equal(t, "Workloads", e.OrganizationalUnit)
	assert.Equal(t, "o-exampleorg", e.OrganizationID)
	assert.Equal(t, 2, api.tagCalls)

	api.tagCalls = 0
	_, err = d.Lookup(context.Background(), "111111111111")
	require.NoError(t, err)
	assert.Equal(t, 1, api.orgCalls, "organization id is remembered")
}

func TestOrgDirectory_WithoutOrgContext(t *testing.T) {
	api := &fakeOrganizations{}
	d := NewOrgDirectory(api, false)

	e, err := d.Lookup(context.Background(), "111111111111")
	require.NoError(t, err)
	assert.Empty(t, e.OrganizationalUnit)
	assert.Empty(t, e.OrganizationID)
	assert.Equal(t, 0, api.orgCalls)
}

func TestOrgDirectory_ParentFailureIsBestEffort(t *testing.T) {
	api := &fakeOrganizations{parentsErr: errors.New("boom")}
	d := NewOrgDirectory(api, true)

	e, err := d.Lookup(context.Background(), "111111111111")
	require.NoError(t, err)
	assert.Empty(t, e.OrganizationalUnit)
}

func TestOrgDirectory_ErrorClassification(t *testing.T) {
	notFound := &smithy.GenericAPIError{Code: "AccountNotFoundException", Message: "nope"}
	d := NewOrgDirectory(&fakeOrganizations{describeErr: notFound}, false)
	_, err := d.Lookup(context.Background(), "111111111111")
	require.Error(t, err)
	assert.True(t, backoff.IsPermanent(err))

	throttled := &smithy.GenericAPIError{Code: "TooManyRequestsException", Message: "slow down"}
	d = NewOrgDirectory(&fakeOrganizations{describeErr: throttled}, false)
	_, err = d.Lookup(context.Background(), "111111111111")
	require.Error(t, err)
	assert.False(t, backoff.IsPermanent(err))
}
