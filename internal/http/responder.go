package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/fleet-reservations/internal/application"
	"github.com/example/fleet-reservations/internal/logging"
)

var (
	errBadRequestBody       = errors.New("無効なリクエスト形式です。")
	errInvalidReservationID = errors.New("無効な予約 ID です。")
	errInvalidReportID      = errors.New("無効な日報 ID です。")
	errMissingPrincipal     = errors.New("利用者を特定できません。")
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	return responder{logger: defaultLogger(logger)}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := localizedStatusMessage(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).WarnContext(ctx, "request failed", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{Message: message})
}

func (r responder) writeValidation(ctx context.Context, w http.ResponseWriter, fields map[string]string) {
	r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
		ErrorCode: "VALIDATION_FAILED",
		Message:   "入力内容に誤りがあります。",
		Errors:    fields,
	})
}

func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	var (
		vErr        *application.ValidationError
		conflictErr *application.ConflictError
		restErr     *application.RestGapError
		transErr    *application.InvalidTransitionError
	)

	switch {
	case errors.Is(err, application.ErrUnauthorized):
		r.writeJSON(ctx, w, http.StatusForbidden, errorResponse{
			ErrorCode: "AUTH_FORBIDDEN",
			Message:   "この操作を実行する権限がありません。",
		})
	case errors.Is(err, application.ErrNotFound):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{Message: "指定されたリソースが見つかりません。"})
	case errors.Is(err, application.ErrStaleState):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode: "STALE_STATE",
			Message:   "予約が他の操作で更新されました。再読み込みしてください。",
		})
	case errors.As(err, &conflictErr):
		details := make(map[string]string, len(conflictErr.Conflicts))
		for _, c := range conflictErr.Conflicts {
			details[c.WithReservationID] = string(c.Type)
		}
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode: "RESERVATION_CONFLICT",
			Message:   "指定された車両はこの時間帯に既に予約されています。",
			Errors:    details,
		})
	case errors.As(err, &restErr):
		details := make(map[string]string, len(restErr.Violations))
		for _, v := range restErr.Violations {
			details[string(v.Rule)] = v.Message
		}
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode: "REST_GAP",
			Message:   "運転者の休息時間または予約ルールに違反しています。",
			Errors:    details,
		})
	case errors.As(err, &transErr):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode: "INVALID_TRANSITION",
			Message:   "現在の予約状態ではこの操作を実行できません。",
			Errors:    map[string]string{"status": string(transErr.From)},
		})
	case errors.As(err, &vErr):
		r.writeValidation(ctx, w, localizeValidationErrors(vErr))
	default:
		r.loggerFor(ctx).ErrorContext(ctx, "unexpected service error", "error", err)
		r.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Message: "サーバー内部でエラーが発生しました。"})
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := logging.FromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

func localizedStatusMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "リクエスト内容が正しくありません。"
	case http.StatusUnauthorized:
		return "認証が必要です。"
	case http.StatusForbidden:
		return "この操作を実行する権限がありません。"
	case http.StatusNotFound:
		return "指定されたリソースが見つかりません。"
	case http.StatusConflict:
		return "要求はリソースの現在の状態と競合しています。"
	case http.StatusUnprocessableEntity:
		return "入力内容に誤りがあります。"
	default:
		return "サーバー内部でエラーが発生しました。"
	}
}

func localizeValidationErrors(vErr *application.ValidationError) map[string]string {
	if vErr == nil || len(vErr.FieldErrors) == 0 {
		return nil
	}

	translated := make(map[string]string, len(vErr.FieldErrors))
	for field, msg := range vErr.FieldErrors {
		translated[field] = translateValidationMessage(msg)
	}
	return translated
}

func translateValidationMessage(message string) string {
	switch message {
	case "vehicle is required":
		return "車両は必須です。"
	case "vehicle does not exist":
		return "指定された車両は存在しません。"
	case "driver does not exist":
		return "指定された運転者は存在しません。"
	case "no driver profile for user":
		return "利用者に運転者情報が登録されていません。"
	case "start date is required":
		return "開始日は必須です。"
	case "end date is required":
		return "終了日は必須です。"
	case "end date must not be before start date":
		return "終了日は開始日以降である必要があります。"
	case "end must be after start":
		return "終了日時は開始日時より後である必要があります。"
	case "return must be after departure":
		return "帰着時刻は出発時刻より後である必要があります。"
	case "invalid time of day":
		return "時刻の形式が不正です。"
	case "invalid date":
		return "日付の形式が不正です。"
	case "invalid timestamp":
		return "日時の形式が不正です。"
	case "unknown status":
		return "不明な予約状態です。"
	default:
		return message
	}
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
}
