package wasmhost

import (
	"context"
	"fmt"
	"time"

	"github.com/ajaxbridge/ajaxbridge/core/ajax"
	"github.com/ajaxbridge/ajaxbridge/core/fetch"
	"github.com/ajaxbridge/ajaxbridge/log"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	HostModuleName = "env"
	FetchFunction  = "ajax_fetch"
)

// Return codes of ajax_fetch.
const (
	resultWritten uint32 = 0
	hostFailure   uint32 = 1
)

type hostFunctions struct {
	client *ajax.Client
}

// RegisterHostFunctions instantiates the "env" host module, exporting
// ajax_fetch backed by client, into runtime.
func RegisterHostFunctions(ctx context.Context, runtime wazero.Runtime, client *ajax.Client) error {
	h := &hostFunctions{client: client}
	_, err := runtime.NewHostModuleBuilder(HostModuleName).
		NewFunctionBuilder().
		WithFunc(h.ajaxFetch).
		Export(FetchFunction).
		Instantiate(ctx)
	if err != nil {
		log.Error(ctx, "Failed to instantiate host module", "module", HostModuleName, err)
		return fmt.Errorf("instantiate host module '%s': %w", HostModuleName, err)
	}
	log.Debug(ctx, "Instantiated host module", "module", HostModuleName, "function", FetchFunction)
	return nil
}

// ajaxFetch performs a request on behalf of a guest and blocks until its
// result is classified.
//
// The headers argument is a JSON object of string values. The result is a JSON
// document written at resultPtr, truncated to resultCapacity; its full length
// is always written at resultLenPtr so the guest can retry with a larger
// buffer. Returns 0 when the result was written and 1 when guest memory could
// not be accessed.
func (h *hostFunctions) ajaxFetch(
	ctx context.Context, mod api.Module,
	urlPtr, urlLen uint32,
	methodPtr, methodLen uint32,
	headersPtr, headersLen uint32,
	bodyPtr, bodyLen uint32,
	timeoutMillis uint32,
	resultPtr, resultCapacity, resultLenPtr uint32,
) uint32 {
	mem := mod.Memory()

	url, ok := readString(mem, urlPtr, urlLen)
	if !ok {
		log.Error(ctx, "ajax_fetch: failed to read URL from guest memory")
		return hostFailure
	}
	method, ok := readString(mem, methodPtr, methodLen)
	if !ok {
		log.Error(ctx, "ajax_fetch: failed to read method from guest memory", "url", url)
		return hostFailure
	}
	rawHeaders, ok := readBytes(mem, headersPtr, headersLen)
	if !ok {
		log.Error(ctx, "ajax_fetch: failed to read headers from guest memory", "url", url)
		return hostFailure
	}
	body, ok := readBytes(mem, bodyPtr, bodyLen)
	if !ok {
		log.Error(ctx, "ajax_fetch: failed to read body from guest memory", "url", url)
		return hostFailure
	}

	var result []byte
	headers, err := parseHeaders(rawHeaders)
	if err != nil {
		log.Warn(ctx, "ajax_fetch: invalid headers", "url", url, err)
		result = errorEnvelope(err)
	} else {
		res, err := h.client.Do(ctx, ajax.Options{
			URL:     url,
			Method:  method,
			Headers: headers,
			Body:    body,
			Timeout: time.Duration(timeoutMillis) * time.Millisecond,
		})
		if err != nil && res.ID == "" {
			result = errorEnvelope(err)
		} else {
			result = res.JSON()
		}
	}

	log.Debug(ctx, "ajax_fetch writing result", "url", url, "method", method, "len", len(result))
	if !writeBytesResult(ctx, mem, resultPtr, resultCapacity, resultLenPtr, result) {
		return hostFailure
	}
	return resultWritten
}

func parseHeaders(raw []byte) (*fetch.Headers, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("headers must be a JSON object")
	}
	parsed := gjson.ParseBytes(raw)
	if !parsed.IsObject() {
		return nil, fmt.Errorf("headers must be a JSON object")
	}
	fields := map[string]any{}
	parsed.ForEach(func(key, value gjson.Result) bool {
		fields[key.String()] = value.Value()
		return true
	})
	return fetch.FromPlainMapping(fields)
}

func errorEnvelope(err error) []byte {
	doc, _ := sjson.SetBytes([]byte(`{}`), "error", err.Error())
	return doc
}

func readString(mem api.Memory, ptr, length uint32) (string, bool) {
	b, ok := readBytes(mem, ptr, length)
	return string(b), ok
}

func readBytes(mem api.Memory, ptr, length uint32) ([]byte, bool) {
	if length == 0 {
		return nil, true
	}
	b, ok := mem.Read(ptr, length)
	if !ok {
		return nil, false
	}
	// Read returns a view of guest memory
	return append([]byte(nil), b...), true
}

// writeBytesResult writes result at ptr, truncated to capacity, and its
// full length at lenPtr.
func writeBytesResult(ctx context.Context, mem api.Memory, ptr, capacity, lenPtr uint32, result []byte) bool {
	resultLen := uint32(len(result))
	writeLen := resultLen
	if writeLen > capacity {
		log.Warn(ctx, "Guest result buffer too small, truncating", "requested", resultLen, "capacity", capacity)
		writeLen = capacity
	}
	if writeLen > 0 && !mem.Write(ptr, result[:writeLen]) {
		log.Error(ctx, "Guest memory write failed", "ptr", ptr, "len", writeLen)
		return false
	}
	if !mem.WriteUint32Le(lenPtr, resultLen) {
		log.Error(ctx, "Guest memory length write failed", "lenPtr", lenPtr, "len", resultLen)
		return false
	}
	return true
}
