package evidence

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/temirov/freightaudit/internal/gates"
)

const (
	defaultRedisKeyPrefixConstant   = "evidence"
	redisLineKeyTemplateConstant    = "%s:%s:%d"
	redisExtractKeyTemplateConstant = "%s:%s:%d:line:%s"
	redisReadErrorTemplateConstant  = "failed to read evidence hash %s: %w"
	redisFieldErrorTemplateConstant = "evidence hash %s field %s: %w"
	evidenceCountFieldConstant      = "evidence_count"
	certificationFieldConstant      = "certification_missing"
	signatureFieldConstant          = "signature_risk"
	amountFieldConstant             = "amount"
	quantityFieldConstant           = "quantity"
	unitRateFieldConstant           = "unit_rate"
)

// HashReader is the subset of *redis.Client used by RedisProvider.
type HashReader interface {
	HGetAll(executionContext context.Context, key string) *redis.MapStringStringCmd
}

// RedisProvider reads evidence hashes written by the document parsing service. Line hashes are
// keyed "<prefix>:<sheet>:<sequence>" and extracted lines "<prefix>:<sheet>:<sequence>:line:<category>".
type RedisProvider struct {
	reader    HashReader
	keyPrefix string
}

// NewRedisProvider builds a provider. An empty prefix defaults to "evidence".
func NewRedisProvider(reader HashReader, keyPrefix string) *RedisProvider {
	trimmedPrefix := strings.TrimSpace(keyPrefix)
	if len(trimmedPrefix) == 0 {
		trimmedPrefix = defaultRedisKeyPrefixConstant
	}
	return &RedisProvider{reader: reader, keyPrefix: trimmedPrefix}
}

// EvidenceCount reads the evidence_count field; a missing hash means no documents.
func (provider *RedisProvider) EvidenceCount(executionContext context.Context, line gates.LineReference) (int, error) {
	key := provider.lineKey(line)
	fields, readError := provider.read(executionContext, key)
	if readError != nil || len(fields) == 0 {
		return 0, readError
	}
	rawCount, present := fields[evidenceCountFieldConstant]
	if !present {
		return 0, nil
	}
	count, parseError := strconv.Atoi(strings.TrimSpace(rawCount))
	if parseError != nil {
		return 0, fmt.Errorf(redisFieldErrorTemplateConstant, key, evidenceCountFieldConstant, parseError)
	}
	return count, nil
}

// ExtractLineItem reads the extracted line hash for category.
func (provider *RedisProvider) ExtractLineItem(executionContext context.Context, line gates.LineReference, category string) (*gates.ExtractedLine, error) {
	key := fmt.Sprintf(redisExtractKeyTemplateConstant, provider.keyPrefix, normalizeSheet(line.Sheet), line.Sequence, normalizeCategory(category))
	fields, readError := provider.read(executionContext, key)
	if readError != nil {
		return nil, readError
	}
	if len(fields) == 0 {
		return nil, gates.ErrEvidenceNotFound
	}

	extractedLine := &gates.ExtractedLine{}
	for fieldName, destination := range map[string]**float64{
		amountFieldConstant:   &extractedLine.Amount,
		quantityFieldConstant: &extractedLine.Quantity,
		unitRateFieldConstant: &extractedLine.UnitRate,
	} {
		rawValue, present := fields[fieldName]
		if !present || len(strings.TrimSpace(rawValue)) == 0 {
			continue
		}
		parsedValue, parseError := strconv.ParseFloat(strings.TrimSpace(rawValue), 64)
		if parseError != nil {
			return nil, fmt.Errorf(redisFieldErrorTemplateConstant, key, fieldName, parseError)
		}
		*destination = &parsedValue
	}
	return extractedLine, nil
}

// QualityFlags reads the certification and signature flags from the line hash.
func (provider *RedisProvider) QualityFlags(executionContext context.Context, line gates.LineReference) (gates.QualityFlags, error) {
	fields, readError := provider.read(executionContext, provider.lineKey(line))
	if readError != nil {
		return gates.QualityFlags{}, readError
	}
	return gates.QualityFlags{
		CertificationMissing: parseFlag(fields[certificationFieldConstant]),
		SignatureRisk:        parseFlag(fields[signatureFieldConstant]),
	}, nil
}

func (provider *RedisProvider) lineKey(line gates.LineReference) string {
	return fmt.Sprintf(redisLineKeyTemplateConstant, provider.keyPrefix, normalizeSheet(line.Sheet), line.Sequence)
}

func (provider *RedisProvider) read(executionContext context.Context, key string) (map[string]string, error) {
	fields, readError := provider.reader.HGetAll(executionContext, key).Result()
	if readError != nil {
		return nil, fmt.Errorf(redisReadErrorTemplateConstant, key, readError)
	}
	return fields, nil
}

func parseFlag(rawValue string) bool {
	parsed, parseError := strconv.ParseBool(strings.TrimSpace(rawValue))
	return parseError == nil && parsed
}

func normalizeSheet(sheet string) string {
	return strings.ToUpper(strings.TrimSpace(sheet))
}
