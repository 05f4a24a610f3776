package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/aatumaykin/nexbackup/internal/logger"
	"github.com/aatumaykin/nexbackup/internal/tools"
	"github.com/aatumaykin/nexbackup/internal/version"
)

// ProtocolVersion is reported by initialize.
const ProtocolVersion = "2025-03-26"

const maxRequestBody = 1 << 20

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type textContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolResult struct {
	Content []textContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

var nullID = json.RawMessage("null")

// handleRPC serves one JSON-RPC request. The session named by the header,
// or a freshly generated one, is created so later binds have a target.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	id := SessionID(r.Header.Get(SessionHeader), "")
	if id == "" {
		id = uuid.NewString()
	}
	s.opts.Sessions.GetOrCreate(id)
	w.Header().Set(SessionHeader, id)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeRPCError(w, nullID, CodeParseError, "failed to read request body")
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeRPCError(w, nullID, CodeParseError, "parse error")
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeRPCError(w, idOrNull(req.ID), CodeInvalidRequest, "invalid request")
		return
	}

	// Notifications get no response body.
	if len(req.ID) == 0 {
		s.log.DebugCtx(r.Context(), "notification received",
			logger.Field{Key: "method", Value: req.Method},
			logger.Field{Key: "session_id", Value: id})
		w.WriteHeader(http.StatusAccepted)
		return
	}

	ctx := tools.WithSession(r.Context(), id)
	switch req.Method {
	case "initialize":
		writeRPCResult(w, req.ID, map[string]any{
			"protocolVersion": ProtocolVersion,
			"capabilities": map[string]any{
				"tools": map[string]any{"listChanged": false},
			},
			"serverInfo": map[string]any{
				"name":    "nexbackup",
				"version": version.Version,
			},
		})

	case "ping":
		writeRPCResult(w, req.ID, struct{}{})

	case "tools/list":
		writeRPCResult(w, req.ID, map[string]any{"tools": s.opts.Tools.ToSchema()})

	case "tools/call":
		var p toolCallParams
		if err := json.Unmarshal(req.Params, &p); err != nil || p.Name == "" {
			writeRPCError(w, req.ID, CodeInvalidParams, "tools/call requires a tool name")
			return
		}
		tool, ok := s.opts.Tools.Get(p.Name)
		if !ok {
			writeRPCError(w, req.ID, CodeInvalidParams, "unknown tool: "+p.Name)
			return
		}

		text, err := tool.Execute(ctx, p.Arguments)
		if err != nil {
			fields := []logger.Field{{Key: "tool", Value: p.Name}, {Key: "session_id", Value: id}}
			var te *tools.ToolError
			if errors.As(err, &te) {
				fields = append(fields, te.LogFields()...)
			}
			s.log.WarnCtx(ctx, "tool call failed", append(fields, logger.Field{Key: "error", Value: err.Error()})...)
			writeRPCResult(w, req.ID, toolResult{Content: []textContent{{Type: "text", Text: err.Error()}}, IsError: true})
			return
		}
		writeRPCResult(w, req.ID, toolResult{Content: []textContent{{Type: "text", Text: text}}})

	default:
		writeRPCError(w, req.ID, CodeMethodNotFound, "method not found")
	}
}

func idOrNull(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return nullID
	}
	return id
}

func writeRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func writeRPCError(w http.ResponseWriter, id json.RawMessage, code int, msg string) {
	writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: msg}})
}
