package connectors

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/perfwatch/internal/domain"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// NotifySendMethod — unary метод шлюза уведомлений.
const NotifySendMethod = "/notification.v1.NotificationService/Send"

const defaultThrottleDelay = 2 * time.Second

// GRPCNotifier отправляет уведомления во внешний шлюз. Payload — structpb.Struct,
// поэтому сгенерированные стабы не нужны.
type GRPCNotifier struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
}

// NewGRPCNotifier оборачивает готовое соединение (в тестах — фейк ClientConnInterface).
func NewGRPCNotifier(conn grpc.ClientConnInterface, timeout time.Duration) *GRPCNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GRPCNotifier{conn: conn, timeout: timeout}
}

// DialNotifier открывает соединение со шлюзом уведомлений.
func DialNotifier(addr string, timeout time.Duration) (*GRPCNotifier, *grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("notifier: failed to dial %s: %w", addr, err)
	}
	return NewGRPCNotifier(conn, timeout), conn, nil
}

// Send реализует отправку одного уведомления. Коды gRPC маппятся в
// ThrottleError (ResourceExhausted) и PermanentError (ошибки запроса).
func (n *GRPCNotifier) Send(ctx context.Context, msg domain.Notification) error {
	req, err := structpb.NewStruct(map[string]interface{}{
		"sender_id":       msg.SenderID,
		"recipient_roles": toList(msg.RecipientRoles),
		"recipient_ids":   toList(msg.RecipientIDs),
		"subject":         msg.Subject,
		"content":         msg.Content,
	})
	if err != nil {
		return Permanent(fmt.Errorf("notifier: failed to build payload: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	reply := &structpb.Struct{}
	if err := n.conn.Invoke(ctx, NotifySendMethod, req, reply); err != nil {
		return classifyRPCError(err)
	}

	// Шлюз может принять вызов, но отклонить сообщение
	if v, ok := reply.GetFields()["error"]; ok && v.GetStringValue() != "" {
		return Permanent(fmt.Errorf("notifier: gateway rejected message: %s", v.GetStringValue()))
	}
	return nil
}

func classifyRPCError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("notifier: send failed: %w", err)
	}
	switch st.Code() {
	case codes.ResourceExhausted:
		return &ThrottleError{RetryAfter: defaultThrottleDelay, Cause: err}
	case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied, codes.Unauthenticated, codes.Unimplemented:
		return Permanent(fmt.Errorf("notifier: send rejected: %w", err))
	default:
		return fmt.Errorf("notifier: send failed: %w", err)
	}
}

func toList(in []string) []interface{} {
	out := make([]interface{}, 0, len(in))
	for _, s := range in {
		out = append(out, s)
	}
	return out
}
