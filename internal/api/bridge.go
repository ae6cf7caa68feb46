package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dgnsrekt/reqlens/internal/types"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

type bridgeError struct {
	Success bool `json:"success"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newBridgeError(err error) bridgeError {
	out := bridgeError{}
	var coded *types.CodedError
	if errors.As(err, &coded) {
		out.Error.Code = coded.Code
		out.Error.Message = coded.Message
		return out
	}
	out.Error.Code = types.CodeInternal
	out.Error.Message = err.Error()
	return out
}

// bridgeHandler upgrades to a WebSocket where each text frame is one tagged
// message and each reply goes back as one text frame, in order. The tabId
// query parameter names the sender tab for messages that carry none.
func bridgeHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sender := types.TabID(r.URL.Query().Get("tabId"))
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			slog.Debug("Bridge upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		ctx := r.Context()
		slog.Info("Bridge client connected", "remote", r.RemoteAddr, "tab_id", sender)
		for {
			data, op, err := wsutil.ReadClientData(conn)
			if err != nil {
				slog.Debug("Bridge client disconnected", "remote", r.RemoteAddr, "error", err)
				return
			}
			if op != ws.OpText {
				continue
			}

			var reply any
			msg, err := types.DecodeMessage(data, sender)
			if err == nil {
				reply, err = svc.Handle(ctx, msg)
			}
			if err != nil {
				reply = newBridgeError(err)
			}

			out, err := json.Marshal(reply)
			if err != nil {
				out, _ = json.Marshal(newBridgeError(err))
			}
			if err := wsutil.WriteServerText(conn, out); err != nil {
				slog.Debug("Bridge write failed", "remote", r.RemoteAddr, "error", err)
				return
			}
		}
	}
}
