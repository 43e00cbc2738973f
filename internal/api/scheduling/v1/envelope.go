package schedulingv1

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Leganyst/clinic-scheduling/internal/apperr"
)

// ErrorDomain — домен в google.rpc.ErrorInfo ответов с ошибкой.
const ErrorDomain = "clinic-scheduling"

// decode раскладывает Struct в DTO и проверяет теги validate.
func decode(v *validator.Validate, in *structpb.Struct, dst any) error {
	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return apperr.Validation("malformed request: %v", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperr.Validation("malformed request: %v", err)
	}
	if err := v.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return apperr.Validation("invalid input")
	}
	fields := make([]string, 0, len(ve))
	for _, fe := range ve {
		fields = append(fields, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	sort.Strings(fields)
	return apperr.Validation("invalid fields: %s", strings.Join(fields, ", "))
}

// envelope собирает {success, message, data}.
func envelope(message string, data any) (*structpb.Struct, error) {
	fields := map[string]any{
		"success": true,
		"message": message,
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "encode response: %v", err)
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, status.Errorf(codes.Internal, "encode response: %v", err)
		}
		fields["data"] = decoded
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func codeOf(kind apperr.Kind) codes.Code {
	switch kind {
	case apperr.KindValidation, apperr.KindInvalidScheduleDefinition:
		return codes.InvalidArgument
	case apperr.KindNoAvailableShift, apperr.KindInvalidStateTransition:
		return codes.FailedPrecondition
	case apperr.KindSlotAlreadyConfirmed, apperr.KindConfirmationConflict:
		return codes.AlreadyExists
	case apperr.KindNotFound:
		return codes.NotFound
	default:
		return codes.Internal
	}
}

// toStatus переводит ошибку сервиса в gRPC-статус. Вид ошибки уходит
// в ErrorInfo.Reason, текст внутренних ошибок наружу не отдаётся.
func toStatus(err error) error {
	kind := apperr.KindOf(err)
	msg := "internal error"
	var ae *apperr.Error
	if kind != apperr.KindInternal && errors.As(err, &ae) {
		msg = ae.Message
	}

	st := status.New(codeOf(kind), msg)
	if detailed, derr := st.WithDetails(&errdetails.ErrorInfo{Reason: string(kind), Domain: ErrorDomain}); derr == nil {
		st = detailed
	}
	return st.Err()
}

// KindFromStatus достаёт вид ошибки из статуса; пустая строка, если его нет.
func KindFromStatus(err error) apperr.Kind {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == ErrorDomain {
			return apperr.Kind(info.GetReason())
		}
	}
	return ""
}
