// Command validate runs raw judge outputs from a CSV file through the
// verdict pipeline without a server or a judge call, for offline checking
// of recorded model responses.
package main

import (
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"prediction-eval/backend/internal/checks"
	"prediction-eval/backend/internal/scoring"
	"prediction-eval/backend/internal/verdict"
)

func main() {
	var (
		inputPath      = flag.String("input", "", "Path to CSV file of raw judge outputs")
		outputPath     = flag.String("output", "", "Optional path to write a results CSV")
		outputColumn   = flag.String("column", "output", "Name of the raw output column")
		idColumn       = flag.String("id-column", "id", "Name of the identifier column")
		expectedColumn = flag.String("expected-column", "", "Optional column of expected weighted scores")
		weightsPath    = flag.String("weights", "", "Optional dimension weights JSON file")
		lenient        = flag.Bool("lenient", false, "Tolerate unexpected top-level keys")
	)
	flag.Parse()

	if strings.TrimSpace(*inputPath) == "" {
		logrus.Fatal("-input is required")
	}

	weights := verdict.DefaultWeights()
	if path := strings.TrimSpace(*weightsPath); path != "" {
		loaded, err := verdict.LoadWeights(path)
		if err != nil {
			logrus.Fatalf("load weights: %v", err)
		}
		weights = loaded
		logrus.WithField("path", path).Info("dimension weights loaded")
	}

	rows, err := readOutputRows(*inputPath, *outputColumn, *idColumn, *expectedColumn)
	if err != nil {
		logrus.Fatalf("read input: %v", err)
	}
	if len(rows) == 0 {
		logrus.Fatal("no output rows detected in input csv")
	}

	rules := verdict.Rules{AllowExtraTopLevel: *lenient}
	results := make([]resultRow, 0, len(rows))
	kindCounts := make(map[string]int)
	validCount := 0
	invalidCount := 0
	start := time.Now()

	for _, row := range rows {
		res := resultRow{id: row.id}

		var output any
		if strings.TrimSpace(row.output) != "" {
			output = row.output
		}

		v, parseErr := rules.Parse(output)
		if parseErr != nil {
			res.errorKind = string(verdict.KindOf(parseErr))
			res.errorReason = parseErr.Error()
			kindCounts[res.errorKind]++
		} else {
			res.valid = v.Valid
			res.weighted = scoring.WeightedVerdictScore(v, weights)
			if v.Scores != nil {
				values := make(map[string]any, len(v.Scores))
				for name, score := range v.Scores {
					values[name] = score
				}
				res.average = scoring.SimpleAverage(values)
			}
			if v.Valid {
				validCount++
			} else {
				invalidCount++
			}
		}

		if row.expected != nil {
			check := checks.ExactScore(output, row.expected, weights)
			res.exactPassed = &check.Passed
			res.exactReason = check.Reason
			res.credit = check.Credit
		}

		results = append(results, res)
	}

	logrus.WithFields(logrus.Fields{
		"rows":     len(rows),
		"valid":    validCount,
		"invalid":  invalidCount,
		"errors":   len(rows) - validCount - invalidCount,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Info("validation complete")
	for kind, count := range kindCounts {
		logrus.WithFields(logrus.Fields{
			"kind":  kind,
			"count": count,
		}).Info("parse failures by kind")
	}

	if strings.TrimSpace(*outputPath) != "" {
		if err := writeResults(*outputPath, results); err != nil {
			logrus.Fatalf("write results: %v", err)
		}
		logrus.WithField("path", *outputPath).Info("results written to file")
	}
}

type outputRow struct {
	id       string
	output   string
	expected *float64
}

type resultRow struct {
	id          string
	valid       bool
	weighted    *int
	average     *float64
	errorKind   string
	errorReason string
	exactPassed *bool
	exactReason string
	credit      float64
}

func readOutputRows(path, outputColumn, idColumn, expectedColumn string) ([]outputRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	outputIdx := findColumn(header, outputColumn)
	if outputIdx < 0 {
		return nil, fmt.Errorf("column %q not found in header", outputColumn)
	}
	idIdx := findColumn(header, idColumn)
	expectedIdx := -1
	if strings.TrimSpace(expectedColumn) != "" {
		expectedIdx = findColumn(header, expectedColumn)
		if expectedIdx < 0 {
			return nil, fmt.Errorf("column %q not found in header", expectedColumn)
		}
	}

	var rows []outputRow
	rowIndex := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if len(record) == 0 {
			continue
		}
		rowIndex++

		row := outputRow{id: strconv.Itoa(rowIndex)}
		if idIdx >= 0 && idIdx < len(record) {
			if id := strings.TrimSpace(record[idIdx]); id != "" {
				row.id = id
			}
		}
		if outputIdx < len(record) {
			row.output = record[outputIdx]
		}
		if expectedIdx >= 0 && expectedIdx < len(record) {
			if raw := strings.TrimSpace(record[expectedIdx]); raw != "" {
				if value, err := strconv.ParseFloat(raw, 64); err == nil {
					row.expected = &value
				}
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func findColumn(header []string, name string) int {
	target := strings.ToLower(strings.TrimSpace(name))
	if target == "" {
		return -1
	}
	for idx, value := range header {
		if strings.ToLower(strings.TrimSpace(value)) == target {
			return idx
		}
	}
	return -1
}

func writeResults(path string, results []resultRow) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil && !os.IsExist(err) {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	headers := []string{"id", "valid", "weighted_score", "simple_average", "error_kind", "error_reason", "exact_check", "exact_reason", "credit"}
	if err := writer.Write(headers); err != nil {
		return err
	}
	for _, res := range results {
		line := []string{
			res.id,
			strconv.FormatBool(res.valid),
			formatIntColumn(res.weighted),
			formatFloatColumn(res.average),
			res.errorKind,
			res.errorReason,
			formatBoolColumn(res.exactPassed),
			res.exactReason,
			fmt.Sprintf("%.2f", res.credit),
		}
		if err := writer.Write(line); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatIntColumn(value *int) string {
	if value == nil {
		return ""
	}
	return strconv.Itoa(*value)
}

func formatFloatColumn(value *float64) string {
	if value == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *value)
}

func formatBoolColumn(value *bool) string {
	if value == nil {
		return ""
	}
	return strconv.FormatBool(*value)
}
