package scanner

import (
	"fmt"
	"strings"

	"github.com/sqlxray/sqlxray/internal/checkpoint"
	"github.com/sqlxray/sqlxray/internal/introspect"
)

const (
	largeTableMB    = 1024
	criticalTableMB = 10240
	minRowsForIndex = 10000
)

// DetectIssues runs the structural heuristics over one table's fetched
// metadata. It is a pure function: the same inputs always yield the same
// issues.
func DetectIssues(table introspect.TableInfo, indexes []introspect.Index, partitions []introspect.Partition, fks []introspect.ForeignKey) []checkpoint.Issue {
	var issues []checkpoint.Issue

	if table.TotalMB > largeTableMB && len(partitions) == 0 {
		sev := checkpoint.SeverityHigh
		if table.TotalMB > criticalTableMB {
			sev = checkpoint.SeverityCritical
		}
		issues = append(issues, checkpoint.Issue{
			Type:           checkpoint.IssueLargeTableNoPartition,
			Severity:       sev,
			Message:        fmt.Sprintf("Table is %.0fMB without partitioning", table.TotalMB),
			Recommendation: "Consider date-based or hash partitioning",
		})
	}

	secondary := 0
	for _, idx := range indexes {
		if idx.Name != "PRIMARY" {
			secondary++
		}
	}
	if table.RowCount > minRowsForIndex && secondary == 0 {
		issues = append(issues, checkpoint.Issue{
			Type:           checkpoint.IssueNoSecondaryIndexes,
			Severity:       checkpoint.SeverityHigh,
			Message:        fmt.Sprintf("Table has %d rows but no secondary indexes", table.RowCount),
			Recommendation: "Add indexes for frequently queried columns",
		})
	}

	leading := make(map[string]struct{}, len(indexes))
	for _, idx := range indexes {
		if len(idx.Columns) > 0 {
			leading[idx.Columns[0].Name] = struct{}{}
		}
	}
	for _, fk := range fks {
		if _, ok := leading[fk.Column]; ok {
			continue
		}
		issues = append(issues, checkpoint.Issue{
			Type:     checkpoint.IssueFKWithoutIndex,
			Severity: checkpoint.SeverityHigh,
			Message:  fmt.Sprintf("Foreign key %s -> %s has no index", fk.Column, fk.ReferencedTable),
			Recommendation: fmt.Sprintf("CREATE INDEX idx_%s_%s ON %s(%s)",
				table.Name, fk.Column, table.Name, fk.Column),
		})
	}

	issues = append(issues, redundantIndexes(indexes)...)
	return issues
}

// redundantIndexes flags every index whose column list is a strict prefix of
// another index's column list. The comparison is on the comma-joined column
// strings, so (a,b) and (a,c) are never flagged against each other.
func redundantIndexes(indexes []introspect.Index) []checkpoint.Issue {
	type prefix struct {
		name string
		cols string
	}
	prefixes := make([]prefix, 0, len(indexes))
	for _, idx := range indexes {
		if len(idx.Columns) == 0 {
			continue
		}
		names := make([]string, len(idx.Columns))
		for i, c := range idx.Columns {
			names[i] = c.Name
		}
		prefixes = append(prefixes, prefix{name: idx.Name, cols: strings.Join(names, ",")})
	}

	var issues []checkpoint.Issue
	for i, a := range prefixes {
		for j, b := range prefixes {
			if i == j || !strings.HasPrefix(b.cols, a.cols+",") {
				continue
			}
			issues = append(issues, checkpoint.Issue{
				Type:           checkpoint.IssueRedundantIndex,
				Severity:       checkpoint.SeverityMedium,
				Message:        fmt.Sprintf("Index %s (%s) is prefix of %s", a.name, a.cols, b.name),
				Recommendation: fmt.Sprintf("Consider removing redundant index %s", a.name),
			})
		}
	}
	return issues
}
