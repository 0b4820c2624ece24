package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

var (
	errMalformedSignature = errors.New("chain: malformed signature")
	errTopicMismatch      = errors.New("chain: log topic does not match event")
)

// ParseEvent builds an ABI event from a human readable declaration such as
// "Transfer(address indexed from, address indexed to, uint256 value)". Every
// parameter must be named so decoded logs can be addressed by name.
func ParseEvent(signature string) (abi.Event, error) {
	name, params, rest, err := splitSignature(signature)
	if err != nil {
		return abi.Event{}, err
	}
	if rest != "" {
		return abi.Event{}, fmt.Errorf("%w: unexpected suffix %q in %q", errMalformedSignature, rest, signature)
	}
	inputs, err := parseArguments(params, true)
	if err != nil {
		return abi.Event{}, fmt.Errorf("event %s: %w", name, err)
	}
	for _, arg := range inputs {
		if arg.Name == "" {
			return abi.Event{}, fmt.Errorf("event %s: %w: unnamed parameter", name, errMalformedSignature)
		}
	}
	return abi.NewEvent(name, name, false, inputs), nil
}

// ParseMethod builds an ABI method from a declaration such as
// "getTranche(uint256) view returns (uint256,uint256)". A declaration without
// "view" is treated as a state-changing function.
func ParseMethod(signature string) (abi.Method, error) {
	name, params, rest, err := splitSignature(signature)
	if err != nil {
		return abi.Method{}, err
	}
	inputs, err := parseArguments(params, false)
	if err != nil {
		return abi.Method{}, fmt.Errorf("method %s: %w", name, err)
	}
	mutability := "nonpayable"
	if strings.HasPrefix(rest, "view") {
		mutability = "view"
		rest = strings.TrimSpace(strings.TrimPrefix(rest, "view"))
	}
	var outputs abi.Arguments
	if rest != "" {
		if !strings.HasPrefix(rest, "returns") {
			return abi.Method{}, fmt.Errorf("%w: %q", errMalformedSignature, signature)
		}
		rest = strings.TrimSpace(strings.TrimPrefix(rest, "returns"))
		if !strings.HasPrefix(rest, "(") || !strings.HasSuffix(rest, ")") {
			return abi.Method{}, fmt.Errorf("%w: %q", errMalformedSignature, signature)
		}
		outputs, err = parseArguments(rest[1:len(rest)-1], false)
		if err != nil {
			return abi.Method{}, fmt.Errorf("method %s outputs: %w", name, err)
		}
	}
	return abi.NewMethod(name, name, abi.Function, mutability, mutability == "view", false, inputs, outputs), nil
}

// MustParseEvent panics when the declaration is malformed.
func MustParseEvent(signature string) abi.Event {
	ev, err := ParseEvent(signature)
	if err != nil {
		panic(err)
	}
	return ev
}

// MustParseMethod panics when the declaration is malformed.
func MustParseMethod(signature string) abi.Method {
	m, err := ParseMethod(signature)
	if err != nil {
		panic(err)
	}
	return m
}

func splitSignature(signature string) (name, params, rest string, err error) {
	trimmed := strings.TrimSpace(signature)
	open := strings.IndexByte(trimmed, '(')
	if open <= 0 {
		return "", "", "", fmt.Errorf("%w: %q", errMalformedSignature, signature)
	}
	closing := strings.IndexByte(trimmed[open:], ')')
	if closing < 0 {
		return "", "", "", fmt.Errorf("%w: %q", errMalformedSignature, signature)
	}
	closing += open
	return trimmed[:open], trimmed[open+1 : closing], strings.TrimSpace(trimmed[closing+1:]), nil
}

func parseArguments(list string, allowIndexed bool) (abi.Arguments, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return nil, nil
	}
	var args abi.Arguments
	for _, raw := range strings.Split(list, ",") {
		fields := strings.Fields(raw)
		if len(fields) == 0 || len(fields) > 3 {
			return nil, fmt.Errorf("%w: parameter %q", errMalformedSignature, raw)
		}
		typ, err := abi.NewType(fields[0], "", nil)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", raw, err)
		}
		arg := abi.Argument{Type: typ}
		switch len(fields) {
		case 2:
			if fields[1] == "indexed" {
				arg.Indexed = true
			} else {
				arg.Name = fields[1]
			}
		case 3:
			if fields[1] != "indexed" {
				return nil, fmt.Errorf("%w: parameter %q", errMalformedSignature, raw)
			}
			arg.Indexed = true
			arg.Name = fields[2]
		}
		if arg.Indexed && !allowIndexed {
			return nil, fmt.Errorf("%w: indexed outside event in %q", errMalformedSignature, raw)
		}
		args = append(args, arg)
	}
	return args, nil
}

// DecodeLog unpacks both the indexed topics and the data section of log
// according to ev.
func DecodeLog(ev abi.Event, log gethtypes.Log) (map[string]any, error) {
	if len(log.Topics) == 0 || log.Topics[0] != ev.ID {
		return nil, errTopicMismatch
	}
	values := make(map[string]any, len(ev.Inputs))
	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(values, indexed, log.Topics[1:]); err != nil {
		return nil, fmt.Errorf("decode %s topics: %w", ev.Name, err)
	}
	if err := ev.Inputs.UnpackIntoMap(values, log.Data); err != nil {
		return nil, fmt.Errorf("decode %s data: %w", ev.Name, err)
	}
	return values, nil
}

// EncodeCall packs the calldata for m with args.
func EncodeCall(m abi.Method, args ...any) ([]byte, error) {
	packed, err := m.Inputs.Pack(args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", m.Name, err)
	}
	return append(common.CopyBytes(m.ID), packed...), nil
}
