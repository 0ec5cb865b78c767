package evidence_test

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/temirov/freightaudit/internal/evidence"
	"github.com/temirov/freightaudit/internal/gates"
)

type stubHashReader struct {
	hashes    map[string]map[string]string
	readError error
	keys      []string
}

func (reader *stubHashReader) HGetAll(_ context.Context, key string) *redis.MapStringStringCmd {
	reader.keys = append(reader.keys, key)
	if reader.readError != nil {
		return redis.NewMapStringStringResult(nil, reader.readError)
	}
	fields, exists := reader.hashes[key]
	if !exists {
		fields = map[string]string{}
	}
	return redis.NewMapStringStringResult(fields, nil)
}

func TestRedisProvider(testInstance *testing.T) {
	reader := &stubHashReader{hashes: map[string]map[string]string{
		"audit:FREIGHT:7": {"evidence_count": "1", "certification_missing": "true"},
		"audit:FREIGHT:7:line:TERMINAL HANDLING": {"amount": "240", "quantity": "2", "unit_rate": ""},
	}}
	provider := evidence.NewRedisProvider(reader, "audit")
	line := gates.LineReference{Sheet: "freight", Sequence: 7}
	executionContext := context.Background()

	evidenceCount, countError := provider.EvidenceCount(executionContext, line)
	require.NoError(testInstance, countError)
	require.Equal(testInstance, 1, evidenceCount)

	extractedLine, extractError := provider.ExtractLineItem(executionContext, line, "terminal handling")
	require.NoError(testInstance, extractError)
	require.Equal(testInstance, 240.0, *extractedLine.Amount)
	require.Equal(testInstance, 2.0, *extractedLine.Quantity)
	require.Nil(testInstance, extractedLine.UnitRate)

	flags, flagsError := provider.QualityFlags(executionContext, line)
	require.NoError(testInstance, flagsError)
	require.True(testInstance, flags.CertificationMissing)
	require.False(testInstance, flags.SignatureRisk)

	_, missingError := provider.ExtractLineItem(executionContext, line, "storage")
	require.ErrorIs(testInstance, missingError, gates.ErrEvidenceNotFound)

	absentCount, absentError := provider.EvidenceCount(executionContext, gates.LineReference{Sheet: "freight", Sequence: 8})
	require.NoError(testInstance, absentError)
	require.Zero(testInstance, absentCount)
}

func TestRedisProviderErrors(testInstance *testing.T) {
	failingProvider := evidence.NewRedisProvider(&stubHashReader{readError: errors.New("connection refused")}, "")
	_, countError := failingProvider.EvidenceCount(context.Background(), gates.LineReference{Sheet: "S", Sequence: 1})
	require.Error(testInstance, countError)
	require.Contains(testInstance, countError.Error(), "evidence:S:1")

	malformedProvider := evidence.NewRedisProvider(&stubHashReader{hashes: map[string]map[string]string{
		"evidence:S:1": {"evidence_count": "many"},
	}}, "")
	_, parseError := malformedProvider.EvidenceCount(context.Background(), gates.LineReference{Sheet: "S", Sequence: 1})
	require.Error(testInstance, parseError)
}
