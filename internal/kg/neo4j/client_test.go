package neo4j

import (
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
)

func TestRecordValues(t *testing.T) {
	record := &neo4j.Record{
		Keys:   []string{"doc_id", "relevance", "answer", "score"},
		Values: []any{"doc-1", int64(3), nil, 2.9},
	}

	assert.Equal(t, "doc-1", stringValue(record, "doc_id"))
	assert.Equal(t, "", stringValue(record, "answer"))
	assert.Equal(t, "", stringValue(record, "missing"))
	assert.Equal(t, "", stringValue(record, "relevance"))

	assert.Equal(t, 3, intValue(record, "relevance"))
	assert.Equal(t, 2, intValue(record, "score"))
	assert.Equal(t, 0, intValue(record, "doc_id"))
	assert.Equal(t, 0, intValue(record, "missing"))
}
