package ops

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"peerchat/apperrors"
	"peerchat/utils"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

// maxLegacyDepth bounds the nested target/message scan
const maxLegacyDepth = 4

// Classifier decodes inbound payloads. The tiers are tried in a fixed
// order and the first success wins: the route's typed schema, a single-key
// tagged envelope, then the legacy nested direct-send shape.
type Classifier struct {
	validate *validator.Validate
}

func NewClassifier() *Classifier {
	v := validator.New()
	_ = v.RegisterValidation("identity", func(fl validator.FieldLevel) bool {
		return utils.IsIdentity(fl.Field().String())
	})
	return &Classifier{validate: v}
}

// Classify returns a canonical operation or a DECODE_FAILED AppError
func (c *Classifier) Classify(in Inbound) (Operation, error) {
	switch in.Origin {
	case OriginLocalAPI, OriginLocalLive, OriginRemotePeer:
	default:
		return nil, decodeFailure(in, "unknown origin")
	}

	payload := bytes.TrimSpace(in.Payload)
	reason := "payload matches no accepted encoding"

	if in.Origin == OriginLocalAPI && in.Route != "" {
		op, err := c.typed(in.Route, payload)
		if err == nil {
			return op, nil
		}
		reason = err.Error()
	}

	op, tag, err := c.tagged(payload)
	switch {
	case err == nil && in.Origin == OriginRemotePeer && !peerTags[tag]:
		return nil, decodeFailure(in, fmt.Sprintf("%s is not accepted from remote peers", tag))
	case err == nil && in.Route != "" && op.Kind() != in.Route:
		return nil, decodeFailure(in, fmt.Sprintf("%s does not match route %s", op.Kind(), in.Route))
	case err == nil:
		return op, nil
	case !errors.Is(err, errNotEnvelope):
		reason = err.Error()
	}

	if in.Origin.IsLocal() && (in.Route == "" || in.Route == KindSendDirect) {
		if op, ok := c.legacy(payload); ok {
			return op, nil
		}
	}

	return nil, decodeFailure(in, reason)
}

func decodeFailure(in Inbound, reason string) error {
	return apperrors.NewDecodeFailure(reason).
		WithDetails("origin", string(in.Origin))
}

func (c *Classifier) check(op Operation) (Operation, error) {
	if err := c.validate.Struct(op); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("invalid %s: field %s failed %q", op.Kind(), verrs[0].Field(), verrs[0].Tag())
		}
		return nil, err
	}
	return op, nil
}

func (c *Classifier) typed(route Kind, payload []byte) (Operation, error) {
	decode, ok := typedSchemas[route]
	if !ok {
		return nil, fmt.Errorf("no schema for route %s", route)
	}
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	op, err := decode(payload, true)
	if err != nil {
		return nil, err
	}
	return c.check(op)
}

var errNotEnvelope = errors.New("not a tagged envelope")

func (c *Classifier) tagged(payload []byte) (Operation, string, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(payload, &envelope); err != nil || len(envelope) != 1 {
		return nil, "", errNotEnvelope
	}

	for tag, body := range envelope {
		decode, ok := envelopeTags[tag]
		if !ok {
			return nil, "", errNotEnvelope
		}
		if len(body) == 0 || bytes.Equal(body, nullBody) {
			body = []byte("{}")
		}
		op, err := decode(body, false)
		if err != nil {
			return nil, tag, fmt.Errorf("malformed %s envelope: %w", tag, err)
		}
		op, err = c.check(op)
		return op, tag, err
	}
	return nil, "", errNotEnvelope
}

// legacy scans below the root for an object carrying string target and
// message fields, following JSON that was double-encoded into a string under
// "data". A flat root object is left to the typed tier.
func (c *Classifier) legacy(payload []byte) (Operation, bool) {
	var root any
	if err := json.Unmarshal(payload, &root); err != nil {
		return nil, false
	}
	target, message, ok := scanNested(root, 0)
	if !ok {
		return nil, false
	}
	op, err := c.check(SendDirect{Target: target, Content: message})
	if err != nil {
		return nil, false
	}
	return op, true
}

func scanSend(v any, depth int) (string, string, bool) {
	if depth > maxLegacyDepth {
		return "", "", false
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return "", "", false
	}

	target, tOK := obj["target"].(string)
	message, mOK := obj["message"].(string)
	if tOK && mOK {
		return target, message, true
	}
	return scanNested(obj, depth)
}

// scanNested looks inside v: the "data" string first, then child objects in
// key order, so the same payload always resolves to the same send.
func scanNested(v any, depth int) (string, string, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return "", "", false
	}

	if data, ok := obj["data"].(string); ok {
		var inner any
		if err := json.Unmarshal([]byte(data), &inner); err == nil {
			if t, m, ok := scanSend(inner, depth+1); ok {
				return t, m, true
			}
		}
	}

	keys := lo.Keys(obj)
	sort.Strings(keys)

	for _, k := range keys {
		if t, m, ok := scanSend(obj[k], depth+1); ok {
			return t, m, true
		}
	}
	return "", "", false
}

func unmarshal(body []byte, into any, strict bool) error {
	if !strict {
		return json.Unmarshal(body, into)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("trailing data after JSON value")
	}
	return nil
}
