// Package artifacts decodes the parquet result files produced by the
// extraction workers into row-oriented structured data.
package artifacts

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"
)

// Data types exposed by the API, mapping to the two artifact roles.
const (
	DataTypeOddsPath     = "odds_path"
	DataTypeExplanations = "explanations"
)

// ValidDataType reports whether dataType names a known artifact.
func ValidDataType(dataType string) bool {
	return dataType == DataTypeOddsPath || dataType == DataTypeExplanations
}

// OddsPathRow is one row of the odds-path artifact.
type OddsPathRow struct {
	Market    string  `parquet:"market" json:"market"`
	Selection string  `parquet:"selection" json:"selection"`
	Odds      float64 `parquet:"odds" json:"odds"`
	Step      int32   `parquet:"step" json:"step"`
	Timestamp string  `parquet:"timestamp" json:"timestamp"`
}

// ExplanationRow is one row of the field-explanations artifact.
type ExplanationRow struct {
	Field       string `parquet:"field" json:"field"`
	Explanation string `parquet:"explanation" json:"explanation"`
	Page        int32  `parquet:"page" json:"page"`
}

// DecodeOddsPath decodes an odds-path parquet artifact.
func DecodeOddsPath(data []byte) ([]OddsPathRow, error) {
	rows, err := parquet.Read[OddsPathRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("decode odds_path parquet: %w", err)
	}
	return rows, nil
}

// DecodeExplanations decodes a field-explanations parquet artifact.
func DecodeExplanations(data []byte) ([]ExplanationRow, error) {
	rows, err := parquet.Read[ExplanationRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("decode explanations parquet: %w", err)
	}
	return rows, nil
}

// Decode decodes an artifact of the given data type into generic rows
// suitable for a JSON response.
func Decode(dataType string, data []byte) (interface{}, error) {
	switch dataType {
	case DataTypeOddsPath:
		return DecodeOddsPath(data)
	case DataTypeExplanations:
		return DecodeExplanations(data)
	default:
		return nil, fmt.Errorf("unknown data type: %s", dataType)
	}
}

// EncodeOddsPath writes rows as a parquet artifact. Used by the worker
// simulator and tests.
func EncodeOddsPath(rows []OddsPathRow) ([]byte, error) {
	var buf bytes.Buffer
	if err := parquet.Write(&buf, rows); err != nil {
		return nil, fmt.Errorf("encode odds_path parquet: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeExplanations writes rows as a parquet artifact.
func EncodeExplanations(rows []ExplanationRow) ([]byte, error) {
	var buf bytes.Buffer
	if err := parquet.Write(&buf, rows); err != nil {
		return nil, fmt.Errorf("encode explanations parquet: %w", err)
	}
	return buf.Bytes(), nil
}
