package dataset

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-sketch/internal/logger"
)

// FlightClient fetches training shards from an Arrow Flight endpoint,
// so large datasets can live behind a data service instead of on local
// disk.
type FlightClient struct {
	client  flight.Client
	addr    string
	timeout time.Duration
}

func NewFlightClient(addr string) (*FlightClient, error) {
	client, err := flight.NewClientWithMiddleware(addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create Flight client: %w", err)
	}
	return &FlightClient{
		client:  client,
		addr:    addr,
		timeout: 30 * time.Second,
	}, nil
}

func (fc *FlightClient) Close() error {
	if fc.client != nil {
		return fc.client.Close()
	}
	return nil
}

// Fetch streams every record of the named dataset shard and decodes it.
func (fc *FlightClient) Fetch(ctx context.Context, name string) (*Dataset, error) {
	if fc.client == nil {
		return nil, fmt.Errorf("flight client is closed")
	}
	ctx, cancel := context.WithTimeout(ctx, fc.timeout)
	defer cancel()

	stream, err := fc.client.DoGet(ctx, &flight.Ticket{Ticket: []byte(name)})
	if err != nil {
		return nil, fmt.Errorf("DoGet %q: %w", name, err)
	}
	rr, err := flight.NewRecordReader(stream)
	if err != nil {
		return nil, fmt.Errorf("failed to open record stream: %w", err)
	}
	defer rr.Release()

	var d *Dataset
	for rr.Next() {
		rec := rr.Record()
		if d == nil {
			if d, err = FromRecord(rec); err != nil {
				return nil, err
			}
		} else {
			if err = AppendRecord(d, rec); err != nil {
				return nil, err
			}
		}
	}
	if err := rr.Err(); err != nil {
		return nil, fmt.Errorf("record stream %q: %w", name, err)
	}
	if d == nil {
		return nil, fmt.Errorf("dataset %q holds no records", name)
	}

	logger.Log.Info("fetched dataset shard", "name", name, "addr", fc.addr, "samples", d.Len())
	return d, nil
}
