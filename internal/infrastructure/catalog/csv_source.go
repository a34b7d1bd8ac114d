// Package catalog fetches the broker's instrument master, a large
// delimited text feed, and narrows it to the rows the resolver indexes.
package catalog

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/manojd/signal_bridge/internal/domain"
	"github.com/manojd/signal_bridge/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

// Column layout of the instrument master feed.
const (
	colExchange = iota
	colSegment
	colSecurityID
	colSymbol
	colDisplayName
	colInstrumentType
	minColumns = colInstrumentType + 1
)

// Filter selects which catalog rows get indexed. Empty fields match
// everything.
type Filter struct {
	Exchange       string
	Segment        string
	InstrumentType string
}

// CSVSource implements domain.CatalogSource over an HTTP-served CSV feed.
type CSVSource struct {
	url    string
	filter Filter
	client *http.Client
	log    *zap.Logger
}

func NewCSVSource(url string, filter Filter, log *zap.Logger) *CSVSource {
	return &CSVSource{
		url:    url,
		filter: filter,
		client: &http.Client{Timeout: 60 * time.Second},
		log:    log,
	}
}

func (s *CSVSource) Fetch(ctx context.Context) ([]domain.Instrument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch instrument master: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch instrument master: HTTP %d", resp.StatusCode)
	}

	instruments, err := s.parse(resp.Body)
	if err != nil {
		return nil, err
	}

	metrics.IncCatalogRefresh()
	s.log.Info("instrument master fetched",
		zap.String("url", s.url),
		zap.Int("instruments", len(instruments)))
	return instruments, nil
}

func (s *CSVSource) parse(r io.Reader) ([]domain.Instrument, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // feed rows vary in trailing columns

	var instruments []domain.Instrument
	first := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse instrument master: %w", err)
		}
		if first {
			first = false
			if record[colExchange] == "EXCH_ID" || record[colExchange] == "exchange" {
				continue // header row
			}
		}
		if len(record) < minColumns {
			continue
		}

		in := domain.Instrument{
			Exchange:       record[colExchange],
			Segment:        record[colSegment],
			SecurityID:     record[colSecurityID],
			Symbol:         record[colSymbol],
			DisplayName:    record[colDisplayName],
			InstrumentType: record[colInstrumentType],
		}
		if !s.matches(in) {
			continue
		}
		instruments = append(instruments, in)
	}
	return instruments, nil
}

func (s *CSVSource) matches(in domain.Instrument) bool {
	if s.filter.Exchange != "" && in.Exchange != s.filter.Exchange {
		return false
	}
	if s.filter.Segment != "" && in.Segment != s.filter.Segment {
		return false
	}
	if s.filter.InstrumentType != "" && in.InstrumentType != s.filter.InstrumentType {
		return false
	}
	return true
}
