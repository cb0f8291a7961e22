package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/laudzakusuma/TriUnity/internal/consensus"
	"github.com/laudzakusuma/TriUnity/internal/ledger"
	"github.com/laudzakusuma/TriUnity/internal/router"
)

// #region client-struct
// Client queries a remote RouterService.
type Client struct {
	conn *grpc.ClientConn
	cc   grpc.ClientConnInterface
}

// #endregion client-struct

// #region constructor
// NewClient connects to a RouterService at addr.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, cc: conn}, nil
}

// NewClientWithConn creates a Client over an existing connection, which the
// caller keeps ownership of.
func NewClientWithConn(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Close shuts down the connection if the Client opened it.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion constructor

// #region calls
// ActivePath fetches the path in force.
func (c *Client) ActivePath(ctx context.Context) (consensus.Path, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/ActivePath", &emptypb.Empty{}, out); err != nil {
		return consensus.Path{}, fmt.Errorf("active path rpc: %w", err)
	}
	var p consensus.Path
	if err := fromStruct(out, &p); err != nil {
		return consensus.Path{}, err
	}
	return p, p.Validate()
}

// Report fetches the latest status snapshot.
func (c *Client) Report(ctx context.Context) (router.Report, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Report", &emptypb.Empty{}, out); err != nil {
		return router.Report{}, fmt.Errorf("report rpc: %w", err)
	}
	var r router.Report
	if err := fromStruct(out, &r); err != nil {
		return router.Report{}, err
	}
	return r, nil
}

// LedgerWindow fetches up to n recent decisions, oldest first.
func (c *Client) LedgerWindow(ctx context.Context, n uint32) ([]ledger.DecisionRecord, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/LedgerWindow", wrapperspb.UInt32(n), out); err != nil {
		return nil, fmt.Errorf("ledger window rpc: %w", err)
	}
	var recs []ledger.DecisionRecord
	if err := fromList(out, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// #endregion calls
