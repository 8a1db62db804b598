// Package command implements the command registry: named operations with
// typed parameters, resolved case-insensitively and invoked with coerced
// JSON arguments.
package command

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned when no command matches the requested name.
var ErrNotFound = errors.New("command not found")

// ErrInvalidArgument is returned when a required parameter is missing or a
// provided value cannot be coerced to its declared kind.
var ErrInvalidArgument = errors.New("invalid argument")

// Kind is the fixed set of parameter types a command may declare. Argument
// coercion dispatches on Kind with an explicit switch; there is no
// reflection-driven conversion.
type Kind string

// Supported parameter kinds.
const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindBool   Kind = "bool"
	KindVector Kind = "vector"
	KindColor  Kind = "color"
	KindJSON   Kind = "json"
)

// Vector is a 3-component position/scale/direction value. Accepts both
// {"x":..,"y":..,"z":..} and [x, y, z] on the wire.
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Color is an RGBA color with components in [0,1]. Alpha defaults to 1
// when omitted.
type Color struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
	A float64 `json:"a"`
}

// Param describes one named command parameter.
type Param struct {
	Name        string `json:"name"`
	Kind        Kind   `json:"kind"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// Args holds coerced arguments keyed by parameter name. Values are the Go
// type matching the declared kind: string, int64, float64, bool, Vector,
// Color, or json.RawMessage.
type Args map[string]any

// String returns the named string argument, or "" if absent.
func (a Args) String(name string) string {
	v, _ := a[name].(string)
	return v
}

// Int returns the named int argument, or 0 if absent.
func (a Args) Int(name string) int64 {
	v, _ := a[name].(int64)
	return v
}

// Float returns the named float argument, or 0 if absent.
func (a Args) Float(name string) float64 {
	v, _ := a[name].(float64)
	return v
}

// Bool returns the named bool argument, or false if absent.
func (a Args) Bool(name string) bool {
	v, _ := a[name].(bool)
	return v
}

// Vector returns the named vector argument, or the zero Vector if absent.
func (a Args) Vector(name string) Vector {
	v, _ := a[name].(Vector)
	return v
}

// Color returns the named color argument, or the zero Color if absent.
func (a Args) Color(name string) Color {
	v, _ := a[name].(Color)
	return v
}

// JSON returns the named raw JSON argument, or nil if absent.
func (a Args) JSON(name string) json.RawMessage {
	v, _ := a[name].(json.RawMessage)
	return v
}

// Handler is the function implementing a command. It returns a
// JSON-serializable result or an error; it must not block indefinitely.
type Handler func(ctx context.Context, args Args) (any, error)

// Descriptor describes one registered command. Built once at registration
// and read-only afterwards.
type Descriptor struct {
	// Name is the unique, case-insensitive command name.
	Name        string
	Description string
	Params      []Param
	// Mutates names the parameter identifying the entity this command
	// mutates, or "" for read-only commands. Cross-cutting policies (undo
	// auto-tracking, audit) key off this.
	Mutates string
	Handler Handler
}

// Module is implemented by collaborator packages that contribute commands.
// Each module's Register is called exactly once at startup.
type Module interface {
	Register(r *Registry)
}

// Result is the structured outcome of one command execution.
type Result struct {
	Status string `json:"status"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Success wraps a handler result in a success envelope.
func Success(v any) Result {
	return Result{Status: "success", Result: v}
}

// Failure wraps an error message in an error envelope.
func Failure(msg string) Result {
	return Result{Status: "error", Error: msg}
}
