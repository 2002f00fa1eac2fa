package rpc

import (
	"encoding/json"
	"errors"
)

var errInvalidParams = errors.New("invalid params")

func callWithSingleStringParam(rawParams json.RawMessage, serviceErrCode int, call func(string) (any, error)) (any, *rpcError) {
	param, err := decodeSingleStringParam(rawParams)
	if err != nil {
		return nil, rpcInvalidParams()
	}
	result, err := call(param)
	if err != nil {
		return nil, rpcServiceError(serviceErrCode, err)
	}
	return result, nil
}

func decodeSingleStringParam(raw json.RawMessage) (string, error) {
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 1 && arr[0] != "" {
		return arr[0], nil
	}
	return "", errInvalidParams
}

// decodeOptionalStringParam accepts a one-element string array where
// the element may be empty.
func decodeOptionalStringParam(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) <= 1 {
		if len(arr) == 0 {
			return "", nil
		}
		return arr[0], nil
	}
	return "", errInvalidParams
}

func decodeStringPairParam(raw json.RawMessage) (string, string, error) {
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 2 {
		return arr[0], arr[1], nil
	}
	return "", "", errInvalidParams
}

func decodeSingleBoolParam(raw json.RawMessage) (bool, error) {
	var arr []bool
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 1 {
		return arr[0], nil
	}
	return false, errInvalidParams
}

func decodeSingleIntParam(raw json.RawMessage) (int64, error) {
	var arr []int64
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 1 {
		return arr[0], nil
	}
	return 0, errInvalidParams
}

func decodeIntPairParam(raw json.RawMessage) (int64, int64, error) {
	var arr []int64
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 2 {
		return arr[0], arr[1], nil
	}
	return 0, 0, errInvalidParams
}
