package clients

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	publicrpcv1 "github.com/certusone/wormhole/node/pkg/proto/publicrpc/v1"
	spyv1 "github.com/certusone/wormhole/node/pkg/proto/spy/v1"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// EmitterFilter restricts a subscription to one emitter.
type EmitterFilter struct {
	ChainID        vaaLib.ChainID
	EmitterAddress vaaLib.Address
}

// SpyClient handles connections to the Wormhole spy service
type SpyClient struct {
	conn   *grpc.ClientConn
	client spyv1.SpyRPCServiceClient
	logger *zap.Logger
}

// NewSpyClient creates a new client for the Wormhole spy service. The
// connection is established lazily and re-established by grpc as needed.
func NewSpyClient(logger *zap.Logger, endpoint string) (*SpyClient, error) {
	client := &SpyClient{
		logger: logger.With(zap.String("component", "SpyClient")),
	}

	client.logger.Info("Connecting to spy service", zap.String("endpoint", endpoint))
	conn, err := grpc.Dial(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to spy: %v", err)
	}

	client.conn = conn
	client.client = spyv1.NewSpyRPCServiceClient(conn)
	return client, nil
}

// Close closes the connection to the spy service
func (c *SpyClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Subscribe opens a signed VAA stream limited to the given emitters. An empty
// filter list subscribes to everything.
func (c *SpyClient) Subscribe(ctx context.Context, filters []EmitterFilter) (*Subscription, error) {
	req := &spyv1.SubscribeSignedVAARequest{}
	for _, f := range filters {
		req.Filters = append(req.Filters, &spyv1.FilterEntry{
			Filter: &spyv1.FilterEntry_EmitterFilter{
				EmitterFilter: &spyv1.EmitterFilter{
					ChainId:        publicrpcv1.ChainID(f.ChainID),
					EmitterAddress: hex.EncodeToString(f.EmitterAddress[:]),
				},
			},
		})
	}

	c.logger.Debug("Subscribing to signed VAAs", zap.Int("filters", len(filters)))
	stream, err := c.client.SubscribeSignedVAA(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to signed VAAs: %w", err)
	}
	return &Subscription{stream: stream}, nil
}

// EventKind tells what a subscription event carries.
type EventKind int

const (
	EventItem EventKind = iota
	EventClosed
	EventError
)

// Event is one step of a subscription: a VAA, the end of the stream, or the
// error that ended it.
type Event struct {
	Kind EventKind
	VAA  []byte
	Err  error
}

// Subscription is a blocking iterator over a spy stream. After a Closed or
// Error event the subscription is finished; subscribe again to resume.
type Subscription struct {
	stream spyv1.SpyRPCService_SubscribeSignedVAAClient
}

// Recv blocks for the next event.
func (s *Subscription) Recv() Event {
	resp, err := s.stream.Recv()
	switch {
	case err == nil:
		return Event{Kind: EventItem, VAA: resp.VaaBytes}
	case errors.Is(err, io.EOF), status.Code(err) == codes.Canceled:
		return Event{Kind: EventClosed}
	default:
		return Event{Kind: EventError, Err: err}
	}
}
