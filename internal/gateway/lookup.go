package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"interactionlog/internal/apperrors"
	"interactionlog/internal/rules"
)

// OptionList is the data payload of GET /api/options/{set}.
type OptionList struct {
	Set     rules.OptionSet `json:"set"`
	Options []string        `json:"options"`
}

// HTTPLookup fetches option sets from a remote interaction service. It
// satisfies options.Source.
type HTTPLookup struct {
	gw *HTTPGateway
}

func NewHTTPLookup(baseURL string, opts ...HTTPOption) *HTTPLookup {
	return &HTTPLookup{gw: NewHTTPGateway(baseURL, opts...)}
}

// Fetch returns the active names of set in display order.
func (l *HTTPLookup) Fetch(ctx context.Context, set rules.OptionSet) ([]string, error) {
	ctx, span := tracer.Start(ctx, "gateway.HTTPLookup.Fetch")
	defer span.End()

	if l.gw.baseURL == "" {
		return nil, apperrors.Configuration("lookup base URL is not set", nil)
	}
	req, err := l.gw.newRequest(ctx, http.MethodGet, optionsPath+string(set), nil)
	if err != nil {
		return nil, err
	}
	env, err := l.gw.do(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var list OptionList
	if err := json.Unmarshal(env.Data, &list); err != nil {
		return nil, apperrors.Transport("decode option list", err)
	}
	return list.Options, nil
}
