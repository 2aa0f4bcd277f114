package inputvalidator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sync/errgroup"
)

const defaultMaxIssues = 100

// FileOptions tunes ValidateReader. A zero Type detects the schema from the header.
type FileOptions struct {
	Type      ComputationType
	MaxIssues int
}

// Report summarizes one input file. Counts keep growing after Issues is capped.
type Report struct {
	Source    string
	Type      ComputationType
	Header    []string
	Rows      int
	ValidRows int
	Counts    map[IssueKind]int
	Issues    []Issue
	Truncated bool
}

func (r *Report) Valid() bool {
	for _, n := range r.Counts {
		if n > 0 {
			return false
		}
	}
	return true
}

func (r *Report) TotalIssues() int {
	total := 0
	for _, n := range r.Counts {
		total += n
	}
	return total
}

// Err returns nil for a clean report, otherwise a *ValidationError with the kept issues.
func (r *Report) Err() error {
	if r.Valid() {
		return nil
	}
	return &ValidationError{Issues: append([]Issue(nil), r.Issues...)}
}

func (r *Report) add(issue Issue, max int) {
	r.Counts[issue.Kind]++
	if len(r.Issues) < max {
		r.Issues = append(r.Issues, issue)
		return
	}
	r.Truncated = true
}

// ValidateReader checks every line ending and every data row of a CSV input with
// a header row. Issues never abort the pass; only I/O errors and cancellation do.
func (r *Registry) ValidateReader(ctx context.Context, source string, in io.Reader, opts FileOptions) (*Report, error) {
	maxIssues := opts.MaxIssues
	if maxIssues <= 0 {
		maxIssues = defaultMaxIssues
	}
	report := &Report{Source: source, Type: opts.Type, Counts: map[IssueKind]int{}}

	reader := bufio.NewReader(in)
	lineNo := 0
	for {
		if lineNo%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read %s: %w", source, err)
		}
		if line == "" && errors.Is(err, io.EOF) {
			break
		}
		lineNo++

		if !ValidLineEnding(line) {
			report.add(Issue{Kind: MalformedLineEnding, Line: lineNo}, maxIssues)
		}
		content := strings.TrimRight(line, "\r\n")

		if report.Header == nil {
			report.Header = splitColumns(content)
			if err := r.checkHeader(report, maxIssues); err != nil {
				return nil, err
			}
		} else if strings.TrimSpace(content) != "" {
			report.Rows++
			if r.checkRow(report, content, lineNo, maxIssues) {
				report.ValidRows++
			}
		}

		if errors.Is(err, io.EOF) {
			break
		}
	}

	if report.Header == nil {
		report.add(Issue{Kind: EmptyInput}, maxIssues)
	}
	return report, nil
}

func (r *Registry) checkHeader(report *Report, maxIssues int) error {
	if report.Type == "" {
		detected, ok := DetectComputationType(report.Header)
		if !ok {
			return fmt.Errorf("%s: cannot detect computation type from header %v", report.Source, report.Header)
		}
		report.Type = detected
	}
	if _, ok := r.schema(report.Type); !ok {
		return fmt.Errorf("unsupported computation type %q", report.Type)
	}
	present := make(map[string]struct{}, len(report.Header))
	for _, h := range report.Header {
		present[h] = struct{}{}
	}
	for _, f := range r.RequiredFields(report.Type) {
		if _, ok := present[string(f)]; !ok {
			report.add(Issue{Kind: MissingRequiredField, Field: f, Line: 1}, maxIssues)
		}
	}
	return nil
}

func (r *Registry) checkRow(report *Report, content string, lineNo, maxIssues int) bool {
	values := splitColumns(content)
	if len(values) != len(report.Header) {
		report.add(Issue{
			Kind:  ColumnCountMismatch,
			Value: fmt.Sprintf("expected %d columns, got %d", len(report.Header), len(values)),
			Line:  lineNo,
		}, maxIssues)
		return false
	}
	row := make(map[string]string, len(values))
	for i, h := range report.Header {
		row[h] = values[i]
	}
	res := r.Validate(row, report.Type)
	for _, issue := range res.Issues {
		// The header check already reports absent columns once.
		if issue.Kind == MissingRequiredField {
			if _, inHeader := row[string(issue.Field)]; !inHeader {
				continue
			}
		}
		issue.Line = lineNo
		report.add(issue, maxIssues)
	}
	return res.Valid()
}

func splitColumns(line string) []string {
	parts := strings.Split(line, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// Opener resolves an input location to a readable stream.
type Opener interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// ValidateFiles validates several input shards with at most concurrency files in
// flight. Reports come back in input order.
func (r *Registry) ValidateFiles(ctx context.Context, opener Opener, uris []string, concurrency int, opts FileOptions) ([]*Report, error) {
	if opener == nil {
		return nil, errors.New("input opener is required")
	}
	if concurrency < 1 {
		concurrency = 1
	}
	reports := make([]*Report, len(uris))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, uri := range uris {
		g.Go(func() error {
			rc, err := opener.Open(gctx, uri)
			if err != nil {
				return fmt.Errorf("open %s: %w", uri, err)
			}
			defer rc.Close()
			report, err := r.ValidateReader(gctx, uri, rc, opts)
			if err != nil {
				return err
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}
