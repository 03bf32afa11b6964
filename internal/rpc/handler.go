// Package rpc implements the Rpc Handler: the per-request pipeline that
// sits between the router and a registered method handler.
package rpc

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/relayhub/orchestratord/internal/errs"
	"github.com/relayhub/orchestratord/internal/registry"
)

var json = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            false,
	ValidateJsonRawMessage: true,
}.Froze()

// Handler dispatches one decoded request frame through lookup, scope
// check, param validation, and invocation.
type Handler struct {
	registry *registry.Registry
}

func New(reg *registry.Registry) *Handler {
	return &Handler{registry: reg}
}

// Invoke runs the full pipeline for one method call and always returns a
// result or a *errs.Error, never a raw error.
func (h *Handler) Invoke(ctx registry.HandlerContext, method string, params []byte) (result any, rerr *errs.Error) {
	desc, lookupErr := h.registry.Lookup(method)
	if lookupErr != nil {
		return nil, lookupErr
	}

	if !registry.HasRequiredScopes(ctx.Identity.Scopes, desc.RequiredScopes) {
		return nil, errs.New(errs.PermissionDenied, fmt.Sprintf("method %q requires scopes %v", method, desc.RequiredScopes))
	}

	if fieldErrs := validateParams(desc.Params, params); len(fieldErrs) > 0 {
		return nil, errs.New(errs.InvalidParams, "invalid params for "+method).WithFieldErrors(fieldErrs)
	}

	defer func() {
		if p := recover(); p != nil {
			rerr = errs.New(errs.InternalError, fmt.Sprintf("handler panic: %v", p))
		}
	}()

	res, err := desc.Handler(ctx, params)
	if err != nil {
		return nil, errs.Wrap(err, errs.InternalError, err.Error())
	}
	return res, nil
}

// validateParams checks presence and coarse JSON-type of every required
// field declared on the method descriptor. It does not attempt full
// JSON-schema validation; the domain handler is responsible for deeper
// semantic checks on its own params struct.
func validateParams(fields []registry.ParamField, raw []byte) []string {
	if len(fields) == 0 {
		return nil
	}

	var obj map[string]jsoniter.RawMessage
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &obj); err != nil {
			return []string{"params must be a JSON object"}
		}
	}

	var problems []string
	for _, f := range fields {
		v, present := obj[f.Name]
		if !present {
			if f.Required {
				problems = append(problems, f.Name+" is required")
			}
			continue
		}
		if !matchesType(v, f.Type) {
			problems = append(problems, f.Name+" must be of type "+f.Type)
		}
	}
	return problems
}

func matchesType(raw jsoniter.RawMessage, kind string) bool {
	if kind == "" {
		return true
	}
	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	switch kind {
	case "string":
		_, ok := probe.(string)
		return ok
	case "number":
		_, ok := probe.(float64)
		return ok
	case "boolean":
		_, ok := probe.(bool)
		return ok
	case "object":
		_, ok := probe.(map[string]any)
		return ok
	case "array":
		_, ok := probe.([]any)
		return ok
	default:
		return true
	}
}
