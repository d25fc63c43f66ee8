package service

import (
	"io"
	"strings"

	"github.com/pharmgx-risk-server/internal/domain"
)

const (
	metadataPrefix = "##"
	headerPrefix   = "#CHROM"
	commentPrefix  = "#"

	sampleColumn  = 9
	minDataFields = 8
	infoColumn    = 7
	idColumn      = 2

	infoGene = "GENE"
	infoStar = "STAR"
	infoRS   = "RS"
)

// VCFParser implements domain.VariantParser for tab-delimited variant files
type VCFParser struct{}

// NewVCFParser creates a new variant file parser
func NewVCFParser() *VCFParser {
	return &VCFParser{}
}

// Parse parses in-memory file content
func (p *VCFParser) Parse(content []byte) domain.ParseResult {
	return ParseVariants(content)
}

// ParseStream parses content read from r
func (p *VCFParser) ParseStream(r io.Reader) domain.ParseResult {
	return ParseVariantStream(r)
}

// ParseVariantStream reads r fully and parses it. A read failure yields a failed
// result with the default sample id and no variants.
func ParseVariantStream(r io.Reader) domain.ParseResult {
	if r == nil {
		return failedParse()
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return failedParse()
	}
	return ParseVariants(content)
}

// ParseVariants extracts the sample id and variant records from raw content.
// Invalid UTF-8 is dropped and malformed lines are skipped.
func ParseVariants(content []byte) domain.ParseResult {
	text := strings.ToValidUTF8(string(content), "")

	result := domain.ParseResult{
		Succeeded: true,
		SampleID:  domain.DefaultSampleID,
		Variants:  []domain.VariantRecord{},
	}

	// empty lines are skipped either way
	for _, line := range strings.FieldsFunc(text, isLineBreak) {
		switch {
		case strings.HasPrefix(line, metadataPrefix):
			continue
		case strings.HasPrefix(line, headerPrefix):
			fields := strings.Split(line, "\t")
			if len(fields) > sampleColumn {
				result.SampleID = fields[sampleColumn]
			}
			continue
		case strings.HasPrefix(line, commentPrefix), strings.TrimSpace(line) == "":
			continue
		}

		record, ok := parseDataLine(line)
		if !ok {
			continue
		}
		result.Variants = append(result.Variants, record)
	}

	return result
}

// isLineBreak reports the universal line boundaries: LF, CR, VT, FF, the
// file/group/record separators, NEL and the Unicode line and paragraph separators.
func isLineBreak(r rune) bool {
	switch r {
	case '\n', '\r', '\v', '\f', '\x1c', '\x1d', '\x1e', '\u0085', '\u2028', '\u2029':
		return true
	}
	return false
}

func parseDataLine(line string) (domain.VariantRecord, bool) {
	fields := strings.Split(line, "\t")
	if len(fields) < minDataFields {
		return domain.VariantRecord{}, false
	}

	info := parseInfo(fields[infoColumn])

	referenceID := fields[idColumn]
	if rs, ok := info[infoRS]; ok {
		referenceID = rs
	}

	return domain.VariantRecord{
		Gene:        strings.ToUpper(info[infoGene]),
		StarAllele:  info[infoStar],
		ReferenceID: referenceID,
	}, true
}

// parseInfo splits KEY=VALUE tokens on ';'. Tokens without '=' are ignored and
// the last duplicate key wins.
func parseInfo(field string) map[string]string {
	info := make(map[string]string)
	for _, token := range strings.Split(field, ";") {
		key, value, found := strings.Cut(token, "=")
		if !found {
			continue
		}
		info[key] = value
	}
	return info
}

func failedParse() domain.ParseResult {
	return domain.ParseResult{
		Succeeded: false,
		SampleID:  domain.DefaultSampleID,
		Variants:  []domain.VariantRecord{},
	}
}
