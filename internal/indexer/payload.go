package indexer

import (
	"bytes"

	"audit-enrich/internal/model"
	"audit-enrich/internal/pool"

	json "github.com/goccy/go-json"
)

// action 은 NDJSON 의 action 라인. index = 같은 _id 면 덮어쓰기(upsert-by-id).
type action struct {
	Index actionMeta `json:"index"`
}

type actionMeta struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

// chunk 는 bulk 요청 1건 분량의 payload. docs 는 실린 순서대로의 action 정보.
type chunk struct {
	buf  *bytes.Buffer
	docs []actionMeta
}

func (c *chunk) release() {
	if c.buf != nil {
		pool.PutBuffer(c.buf)
		c.buf = nil
	}
}

// encodePayload
//
// 문서들을 action + document 라인 쌍으로 직렬화한다.
// maxBytes 를 넘기 직전에 chunk 를 끊는다. 문서 1건이 그 자체로 maxBytes 보다 크면
// 단독 chunk 로 보낸다 (서버가 거절하면 per-document 실패로 잡힌다).
// 직렬화 자체가 실패한 문서는 bad 로 돌려준다.
func encodePayload(docs []model.Document, maxBytes int) (chunks []*chunk, bad []ItemFailure) {
	cur := &chunk{buf: pool.GetBuffer()}
	line := pool.GetBuffer()
	defer pool.PutBuffer(line)

	for _, d := range docs {
		line.Reset()
		if err := encodeDoc(line, d); err != nil {
			bad = append(bad, ItemFailure{
				ID:     d.ID,
				Index:  d.Index,
				Type:   "serialization_error",
				Reason: err.Error(),
			})
			continue
		}

		if maxBytes > 0 && len(cur.docs) > 0 && cur.buf.Len()+line.Len() > maxBytes {
			chunks = append(chunks, cur)
			cur = &chunk{buf: pool.GetBuffer()}
		}
		cur.buf.Write(line.Bytes())
		cur.docs = append(cur.docs, actionMeta{Index: d.Index, ID: d.ID})
	}

	if len(cur.docs) > 0 {
		chunks = append(chunks, cur)
	} else {
		cur.release()
	}
	return chunks, bad
}

func encodeDoc(w *bytes.Buffer, d model.Document) error {
	meta, err := json.Marshal(action{Index: actionMeta{Index: d.Index, ID: d.ID}})
	if err != nil {
		return err
	}
	body, err := json.Marshal(d.Body)
	if err != nil {
		return err
	}
	w.Write(meta)
	w.WriteByte('\n')
	w.Write(body)
	w.WriteByte('\n')
	return nil
}
