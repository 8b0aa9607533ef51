package registryrpc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuemby/stratumdb/pkg/types"
)

// jsonCodecName matches rpcclient's registered content-subtype; both
// services share one codec registration (see server.go's blank import).
const jsonCodecName = "json"

// Client is what a standalone worker process uses to join a remote
// coordinator's Worker Registry, instead of being constructed in-process
// against a *registry.Registry as pkg/workersim's tests are.
type Client struct {
	cc *grpc.ClientConn
}

// Dial connects to a coordinator's registry service at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cc, err := grpc.DialContext(dialCtx, addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial registry at %s: %w", addr, err)
	}
	return &Client{cc: cc}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.cc.Close()
}

// Register enrolls this worker, returning the assigned WorkerID.
func (c *Client) Register(ctx context.Context, workerID types.WorkerID, endpoint string, resources types.ResourceInfo) (types.WorkerID, error) {
	req := &registerWorkerRequest{WorkerID: string(workerID), Endpoint: endpoint, Resources: resources}
	resp := &registerWorkerResponse{}
	if err := grpc.Invoke(ctx, methodRegisterWorker, req, resp, c.cc); err != nil {
		return "", fmt.Errorf("registerWorker: %w", err)
	}
	return types.WorkerID(resp.AssignedWorkerID), nil
}

// Deregister removes this worker from the registry.
func (c *Client) Deregister(ctx context.Context, workerID types.WorkerID, reason string) error {
	req := &deregisterWorkerRequest{WorkerID: string(workerID), Reason: reason}
	resp := &deregisterWorkerResponse{}
	if err := grpc.Invoke(ctx, methodDeregisterWorker, req, resp, c.cc); err != nil {
		return fmt.Errorf("deregisterWorker: %w", err)
	}
	return nil
}

// Heartbeat reports fresh resource utilization. A false Ack means the
// coordinator no longer knows this worker; the caller should Register
// again.
func (c *Client) Heartbeat(ctx context.Context, workerID types.WorkerID, resources types.ResourceInfo) (bool, error) {
	req := &heartbeatRequest{WorkerID: string(workerID), Resources: resources}
	resp := &heartbeatResponse{}
	if err := grpc.Invoke(ctx, methodHeartbeat, req, resp, c.cc); err != nil {
		return false, fmt.Errorf("heartbeat: %w", err)
	}
	return resp.Ack, nil
}
