package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/P-T-/OpenCoins/internal/common"
	"github.com/P-T-/OpenCoins/internal/server/models"
	"github.com/P-T-/OpenCoins/internal/server/services"
	"google.golang.org/grpc/peer"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	statusSuccess = "success"
	statusError   = "error"

	internalErrorMessage = "internal error"
)

func (s *GRPCServer) Register(ctx context.Context, req *structpb.Struct) (*structpb.ListValue, error) {
	a := args{req}
	username, err := a.required("username")
	if err != nil {
		return s.reply(ctx, nil, err)
	}
	displayName, err := a.required("display_name")
	if err != nil {
		return s.reply(ctx, nil, err)
	}
	password, err := a.required("password")
	if err != nil {
		return s.reply(ctx, nil, err)
	}

	account, err := s.ledger.Register(ctx, services.RegisterParams{
		Username:    username,
		DisplayName: displayName,
		Password:    password,
		IPAddress:   peerIP(ctx),
	})
	if err != nil {
		return s.reply(ctx, nil, err)
	}
	return s.reply(ctx, structpb.NewStringValue(account.Username), nil)
}

func (s *GRPCServer) Lookup(ctx context.Context, req *structpb.Struct) (*structpb.ListValue, error) {
	a := args{req}
	filter := models.AccountFilter{
		Username:    a.optional("username"),
		DisplayName: a.optional("display_name"),
	}
	if filter.IsEmpty() {
		return s.reply(ctx, nil, fmt.Errorf("%w: username or display_name required", common.ErrInvalidArgument))
	}

	account, err := s.ledger.LookupAccount(ctx, filter)
	if err != nil {
		return s.reply(ctx, nil, err)
	}
	return s.reply(ctx, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"username":     structpb.NewStringValue(account.Username),
		"display_name": structpb.NewStringValue(account.DisplayName),
	}}), nil)
}

func (s *GRPCServer) Balance(ctx context.Context, req *structpb.Struct) (*structpb.ListValue, error) {
	account, err := s.authenticate(ctx, args{req})
	if err != nil {
		return s.reply(ctx, nil, err)
	}
	return s.reply(ctx, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"username":     structpb.NewStringValue(account.Username),
		"display_name": structpb.NewStringValue(account.DisplayName),
		"balance":      amountValue(s.ledger.Balance(account)),
	}}), nil)
}

func (s *GRPCServer) Mint(ctx context.Context, req *structpb.Struct) (*structpb.ListValue, error) {
	a := args{req}
	account, err := s.authenticate(ctx, a)
	if err != nil {
		return s.reply(ctx, nil, err)
	}
	worth, err := a.worth("worth")
	if err != nil {
		return s.reply(ctx, nil, err)
	}

	id, err := s.ledger.Mint(ctx, services.MintParams{
		Worth:     worth,
		RevertTag: a.optional("revert_tag"),
		Account:   account,
	})
	if err != nil {
		return s.reply(ctx, nil, err)
	}
	return s.reply(ctx, structpb.NewStringValue(id), nil)
}

func (s *GRPCServer) Redeem(ctx context.Context, req *structpb.Struct) (*structpb.ListValue, error) {
	a := args{req}
	account, err := s.authenticate(ctx, a)
	if err != nil {
		return s.reply(ctx, nil, err)
	}
	token, err := a.required("token")
	if err != nil {
		return s.reply(ctx, nil, err)
	}

	worth, err := s.ledger.Redeem(ctx, token, account)
	if err != nil {
		return s.reply(ctx, nil, err)
	}
	return s.reply(ctx, amountValue(worth), nil)
}

func (s *GRPCServer) Revert(ctx context.Context, req *structpb.Struct) (*structpb.ListValue, error) {
	a := args{req}
	account, err := s.authenticate(ctx, a)
	if err != nil {
		return s.reply(ctx, nil, err)
	}
	tag, err := a.required("revert_tag")
	if err != nil {
		return s.reply(ctx, nil, err)
	}

	ids, err := s.ledger.RevertGroup(ctx, tag, account)
	if err != nil {
		var rerr *services.RevertError
		if errors.As(err, &rerr) {
			s.logger.Error(ctx, "revert incomplete", "revert_tag", tag, "error", err)
			return failure(revertMessage(rerr)), nil
		}
		return s.reply(ctx, nil, err)
	}

	values := make([]*structpb.Value, 0, len(ids))
	for _, id := range ids {
		values = append(values, structpb.NewStringValue(id))
	}
	return s.reply(ctx, structpb.NewListValue(&structpb.ListValue{Values: values}), nil)
}

func (s *GRPCServer) Delete(ctx context.Context, req *structpb.Struct) (*structpb.ListValue, error) {
	a := args{req}
	account, err := s.authenticate(ctx, a)
	if err != nil {
		return s.reply(ctx, nil, err)
	}

	var transferTo *models.Account
	if name := a.optional("transfer_to"); name != "" {
		transferTo, err = s.ledger.LookupAccount(ctx, models.AccountFilter{Username: name})
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				err = fmt.Errorf("transfer account %w", common.ErrorNotFound)
			}
			return s.reply(ctx, nil, err)
		}
	}

	if err := s.ledger.DeleteAccount(ctx, account, transferTo); err != nil {
		return s.reply(ctx, nil, err)
	}
	return s.reply(ctx, structpb.NewNullValue(), nil)
}

// authenticate resolves the username/password pair carried by the request.
// Unknown users and wrong passwords are indistinguishable to the caller.
func (s *GRPCServer) authenticate(ctx context.Context, a args) (*models.Account, error) {
	username, err := a.required("username")
	if err != nil {
		return nil, err
	}
	password, err := a.required("password")
	if err != nil {
		return nil, err
	}

	account, err := s.ledger.LookupAccount(ctx, models.AccountFilter{Username: username})
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, err
	}
	if !s.ledger.Authenticate(ctx, account, password) {
		return nil, common.ErrorUnauthorized
	}
	return account, nil
}

// reply builds the envelope. Domain errors are sent verbatim; anything else
// is logged and hidden behind a generic message.
func (s *GRPCServer) reply(ctx context.Context, payload *structpb.Value, err error) (*structpb.ListValue, error) {
	if err == nil {
		if payload == nil {
			payload = structpb.NewNullValue()
		}
		return success(payload), nil
	}
	if common.IsDomainError(err) {
		return failure(err.Error()), nil
	}
	s.logger.Error(ctx, "internal error", "request_id", RequestID(ctx), "error", err)
	return failure(internalErrorMessage), nil
}

func success(payload *structpb.Value) *structpb.ListValue {
	return &structpb.ListValue{Values: []*structpb.Value{structpb.NewStringValue(statusSuccess), payload}}
}

func failure(msg string) *structpb.ListValue {
	return &structpb.ListValue{Values: []*structpb.Value{structpb.NewStringValue(statusError), structpb.NewStringValue(msg)}}
}

// maxExactAmount is the largest magnitude a float64 number value holds exactly.
const maxExactAmount = 1 << 53

// amountValue encodes n as a number, or as a decimal string when a number
// would lose precision.
func amountValue(n int64) *structpb.Value {
	if n > maxExactAmount || n < -maxExactAmount {
		return structpb.NewStringValue(strconv.FormatInt(n, 10))
	}
	return structpb.NewNumberValue(float64(n))
}

func revertMessage(e *services.RevertError) string {
	failed := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		failed = append(failed, f.TokenID)
	}
	return fmt.Sprintf("revert incomplete: reverted %d, failed: %s", len(e.Reverted), strings.Join(failed, ", "))
}

func peerIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// args reads request fields.
type args struct {
	req *structpb.Struct
}

func (a args) value(name string) (*structpb.Value, bool) {
	v, ok := a.req.GetFields()[name]
	if !ok {
		return nil, false
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return nil, false
	}
	return v, true
}

func (a args) required(name string) (string, error) {
	v, ok := a.value(name)
	if !ok {
		return "", fmt.Errorf("%w: missing %s", common.ErrInvalidArgument, name)
	}
	sv, isString := v.GetKind().(*structpb.Value_StringValue)
	if !isString || sv.StringValue == "" {
		return "", fmt.Errorf("%w: %s must be a non-empty string", common.ErrInvalidArgument, name)
	}
	return sv.StringValue, nil
}

func (a args) optional(name string) string {
	v, ok := a.value(name)
	if !ok {
		return ""
	}
	return v.GetStringValue()
}

func (a args) worth(name string) (int64, error) {
	v, ok := a.value(name)
	if !ok {
		return 0, fmt.Errorf("%w: missing %s", common.ErrInvalidArgument, name)
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return services.WorthFromFloat(k.NumberValue)
	case *structpb.Value_StringValue:
		return services.CoerceWorth(k.StringValue)
	default:
		return 0, common.ErrInvalidWorth
	}
}
