// Package client is a thin gRPC client for the ledger service. It sends
// google.protobuf.Struct requests and unwraps the ["success", payload] /
// ["error", message] reply envelope.
package client

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "opencoins.Ledger"

// RemoteError is a failure reported by the server in the error envelope.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

// Credentials authenticate a single call.
type Credentials struct {
	Username string
	Password string
}

// AccountInfo is the public view of an account.
type AccountInfo struct {
	Username    string
	DisplayName string
	Balance     int64
}

type LedgerClient struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// New dials endpoint without transport security.
func New(endpoint string, timeout time.Duration, opts ...grpc.DialOption) (*LedgerClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, err
	}
	return &LedgerClient{conn: conn, timeout: timeout}, nil
}

func (c *LedgerClient) Close() error {
	return c.conn.Close()
}

// Call invokes method with fields and returns the success payload.
func (c *LedgerClient) Call(ctx context.Context, method string, fields map[string]any) (*structpb.Value, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp := new(structpb.ListValue)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/"+method, req, resp); err != nil {
		return nil, err
	}
	return unwrap(resp)
}

func unwrap(resp *structpb.ListValue) (*structpb.Value, error) {
	values := resp.GetValues()
	if len(values) != 2 {
		return nil, fmt.Errorf("malformed reply: %d elements", len(values))
	}
	switch status := values[0].GetStringValue(); status {
	case "success":
		return values[1], nil
	case "error":
		return nil, &RemoteError{Message: values[1].GetStringValue()}
	default:
		return nil, fmt.Errorf("malformed reply: status %q", status)
	}
}

func (cr Credentials) fields(extra map[string]any) map[string]any {
	f := map[string]any{"username": cr.Username, "password": cr.Password}
	for k, v := range extra {
		f[k] = v
	}
	return f
}

func (c *LedgerClient) Register(ctx context.Context, cr Credentials, displayName string) error {
	_, err := c.Call(ctx, "Register", cr.fields(map[string]any{"display_name": displayName}))
	return err
}

// Lookup finds an account by username or display name; empty values are
// left out of the request.
func (c *LedgerClient) Lookup(ctx context.Context, username, displayName string) (*AccountInfo, error) {
	fields := map[string]any{}
	if username != "" {
		fields["username"] = username
	}
	if displayName != "" {
		fields["display_name"] = displayName
	}

	v, err := c.Call(ctx, "Lookup", fields)
	if err != nil {
		return nil, err
	}
	f := v.GetStructValue().GetFields()
	return &AccountInfo{
		Username:    f["username"].GetStringValue(),
		DisplayName: f["display_name"].GetStringValue(),
	}, nil
}

func (c *LedgerClient) Balance(ctx context.Context, cr Credentials) (*AccountInfo, error) {
	v, err := c.Call(ctx, "Balance", cr.fields(nil))
	if err != nil {
		return nil, err
	}
	f := v.GetStructValue().GetFields()
	balance, err := amount(f["balance"])
	if err != nil {
		return nil, err
	}
	return &AccountInfo{
		Username:    f["username"].GetStringValue(),
		DisplayName: f["display_name"].GetStringValue(),
		Balance:     balance,
	}, nil
}

// Mint sends worth as typed by the user; the server coerces it.
func (c *LedgerClient) Mint(ctx context.Context, cr Credentials, worth, revertTag string) (string, error) {
	extra := map[string]any{"worth": worth}
	if revertTag != "" {
		extra["revert_tag"] = revertTag
	}
	v, err := c.Call(ctx, "Mint", cr.fields(extra))
	if err != nil {
		return "", err
	}
	return v.GetStringValue(), nil
}

func (c *LedgerClient) Redeem(ctx context.Context, cr Credentials, token string) (int64, error) {
	v, err := c.Call(ctx, "Redeem", cr.fields(map[string]any{"token": token}))
	if err != nil {
		return 0, err
	}
	return amount(v)
}

// amount decodes a coin amount sent either as a number or, when too large
// for a float64, as a decimal string.
func amount(v *structpb.Value) (int64, error) {
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return int64(k.NumberValue), nil
	case *structpb.Value_StringValue:
		n, err := strconv.ParseInt(k.StringValue, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed amount %q: %w", k.StringValue, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("malformed amount: %v", v)
	}
}

func (c *LedgerClient) Revert(ctx context.Context, cr Credentials, revertTag string) ([]string, error) {
	v, err := c.Call(ctx, "Revert", cr.fields(map[string]any{"revert_tag": revertTag}))
	if err != nil {
		return nil, err
	}
	values := v.GetListValue().GetValues()
	ids := make([]string, 0, len(values))
	for _, id := range values {
		ids = append(ids, id.GetStringValue())
	}
	return ids, nil
}

func (c *LedgerClient) Delete(ctx context.Context, cr Credentials, transferTo string) error {
	var extra map[string]any
	if transferTo != "" {
		extra = map[string]any{"transfer_to": transferTo}
	}
	_, err := c.Call(ctx, "Delete", cr.fields(extra))
	return err
}
