package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// PeriodInput mirrors the ingest payload of one period. Empty cells stay
// nil and are stored as zero by the server.
type PeriodInput struct {
	PeriodKey           string   `json:"period_key"`
	TotalSpend          *float64 `json:"total_spend,omitempty"`
	TotalTextsDelivered *int64   `json:"total_texts_delivered,omitempty"`
	CouponsRedeemed     *int64   `json:"coupons_redeemed,omitempty"`
	ActiveSubscribers   *int64   `json:"active_subscribers,omitempty"`
}

// AccountBatch is every period read for one account.
type AccountBatch struct {
	AccountID string
	Periods   []PeriodInput
}

// RowError reports a skipped CSV line.
type RowError struct {
	Line int
	Err  error
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

var requiredColumns = []string{"account_id", "period_key"}

// readBatches groups CSV rows by account, in first-seen order. Malformed
// rows are skipped and reported.
func readBatches(r io.Reader, limit int) ([]AccountBatch, []RowError, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := colIndex[col]; !ok {
			return nil, nil, fmt.Errorf("missing required column %q", col)
		}
	}

	var (
		order   []string
		batches = make(map[string]*AccountBatch)
		skipped []RowError
		rows    int
	)

	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			skipped = append(skipped, RowError{Line: line, Err: err})
			continue
		}

		accountID, in, err := parseRow(record, colIndex)
		if err != nil {
			skipped = append(skipped, RowError{Line: line, Err: err})
			continue
		}

		b, ok := batches[accountID]
		if !ok {
			b = &AccountBatch{AccountID: accountID}
			batches[accountID] = b
			order = append(order, accountID)
		}
		b.Periods = append(b.Periods, in)

		rows++
		if limit > 0 && rows >= limit {
			break
		}
	}

	out := make([]AccountBatch, 0, len(order))
	for _, id := range order {
		b := batches[id]
		sort.Slice(b.Periods, func(i, j int) bool { return b.Periods[i].PeriodKey < b.Periods[j].PeriodKey })
		out = append(out, *b)
	}
	return out, skipped, nil
}

func parseRow(record []string, colIndex map[string]int) (string, PeriodInput, error) {
	cell := func(name string) string {
		i, ok := colIndex[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	accountID := cell("account_id")
	if accountID == "" {
		return "", PeriodInput{}, errors.New("account_id is empty")
	}
	in := PeriodInput{PeriodKey: cell("period_key")}
	if in.PeriodKey == "" {
		return "", PeriodInput{}, errors.New("period_key is empty")
	}

	var err error
	if in.TotalSpend, err = parseFloat(cell("total_spend")); err != nil {
		return "", PeriodInput{}, fmt.Errorf("total_spend: %w", err)
	}
	if in.TotalTextsDelivered, err = parseInt(cell("total_texts_delivered")); err != nil {
		return "", PeriodInput{}, fmt.Errorf("total_texts_delivered: %w", err)
	}
	if in.CouponsRedeemed, err = parseInt(cell("coupons_redeemed")); err != nil {
		return "", PeriodInput{}, fmt.Errorf("coupons_redeemed: %w", err)
	}
	if in.ActiveSubscribers, err = parseInt(cell("active_subscribers")); err != nil {
		return "", PeriodInput{}, fmt.Errorf("active_subscribers: %w", err)
	}
	return accountID, in, nil
}

func parseFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseInt(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(strings.ReplaceAll(s, ",", ""), 10, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
