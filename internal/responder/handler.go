// Package responder answers echo test requests over TCP.
package responder

import (
	"go.uber.org/zap"

	"github.com/studiowebux/echotest/internal/iso8583"
	"github.com/studiowebux/echotest/internal/metrics"
)

// Handler turns one request body into one response body. It holds no
// per-connection state and is safe for concurrent use.
type Handler struct {
	logger  *zap.Logger
	metrics *metrics.Server
}

// NewHandler creates a Handler. A nil logger disables logging.
func NewHandler(logger *zap.Logger, m *metrics.Server) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{logger: logger, metrics: m}
}

// BuildResponse answers an 0800. Fields 1, 7, 11 and 37 are copied verbatim,
// field 39 is set to 00 and field 70 is echoed when the request carries it.
func BuildResponse(req iso8583.Message) iso8583.Message {
	return iso8583.Message{
		MTI:                  iso8583.MTINetworkMgmtResponse,
		SecondaryBitmap:      req.SecondaryBitmap,
		TransmissionDateTime: req.TransmissionDateTime,
		STAN:                 req.STAN,
		RRN:                  req.RRN,
		ResponseCode:         iso8583.ResponseApproved,
		NetworkMgmtCode:      req.NetworkMgmtCode,
	}
}

// ErrorResponse is the 0810 sent for anything that is not a decodable 0800.
func ErrorResponse() iso8583.Message {
	return iso8583.Message{
		MTI:          iso8583.MTINetworkMgmtResponse,
		ResponseCode: iso8583.ResponseSystemMalfunction,
	}
}

var errorResponseBody = mustEncode(ErrorResponse())

func mustEncode(m iso8583.Message) []byte {
	body, err := iso8583.Encode(m)
	if err != nil {
		panic(err)
	}
	return []byte(body)
}

// Respond decodes body and returns the encoded response. Bad input never
// fails the call; it is answered with response code 96.
func (h *Handler) Respond(body []byte) []byte {
	req, err := iso8583.Decode(string(body))
	if err != nil {
		return h.Reject(body, err)
	}
	h.logger.Debug("request received",
		zap.String("mti", req.MTI),
		zap.Stringers("fields", req.PresentFields()),
		zap.String("stan", req.STAN))

	if req.MTI != iso8583.MTINetworkMgmtRequest {
		h.logger.Warn("unsupported mti", zap.String("mti", req.MTI), zap.String("stan", req.STAN))
		h.metrics.Response(req.MTI, iso8583.ResponseSystemMalfunction)
		return errorResponseBody
	}

	resp := BuildResponse(req)
	out, err := iso8583.Encode(resp)
	if err != nil {
		h.logger.Error("failed to encode response", zap.String("stan", req.STAN), zap.Error(err))
		h.metrics.Response(req.MTI, iso8583.ResponseSystemMalfunction)
		return errorResponseBody
	}

	h.logger.Debug("response sent",
		zap.String("mti", resp.MTI),
		zap.Stringers("fields", resp.PresentFields()),
		zap.String("stan", resp.STAN),
		zap.String("response_code", resp.ResponseCode))
	h.metrics.Response(req.MTI, resp.ResponseCode)
	return []byte(out)
}

// Reject logs an inbound frame that could not be decoded and returns the 96
// response for it.
func (h *Handler) Reject(body []byte, cause error) []byte {
	h.logger.Error("failed to decode request", zap.ByteString("body", body), zap.Error(cause))
	h.metrics.DecodeError()
	h.metrics.Response("", iso8583.ResponseSystemMalfunction)
	return errorResponseBody
}
