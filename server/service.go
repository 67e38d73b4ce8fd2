package server

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"connector-rpc/exception"
	"connector-rpc/objects"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	handlerType = reflect.TypeOf(objects.ResultsHandler(nil))
)

// methodType is one operation method of a connector:
//
//	func (c *T) Name(ctx context.Context, args...) error
//	func (c *T) Name(ctx context.Context, args...) (R, error)
//
// An argument of type objects.ResultsHandler makes the method streaming.
type methodType struct {
	method    reflect.Method
	argTypes  []reflect.Type // without receiver and context
	handler   int            // index into argTypes, -1 when not streaming
	hasResult bool
}

func (m *methodType) streaming() bool {
	return m.handler >= 0
}

// service is the method set of one connector type.
type service struct {
	typ     reflect.Type
	methods map[string]*methodType // keyed by lower-case name
}

var services sync.Map // reflect.Type -> *service

// serviceFor scans rcvr's type once and caches the result.
func serviceFor(rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil {
		return nil, fmt.Errorf("server: connector factory returned nil")
	}
	if s, ok := services.Load(typ); ok {
		return s.(*service), nil
	}
	s := &service{typ: typ, methods: make(map[string]*methodType)}
	s.registerMethods()
	if len(s.methods) == 0 {
		return nil, fmt.Errorf("server: %s has no operation methods", typ)
	}
	actual, _ := services.LoadOrStore(typ, s)
	return actual.(*service), nil
}

// registerMethods keeps the exported methods that take a context first and
// return an error last.
func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		mt := method.Type
		if mt.NumIn() < 2 || mt.In(1) != contextType {
			continue
		}
		if mt.NumOut() < 1 || mt.NumOut() > 2 || mt.Out(mt.NumOut()-1) != errorType {
			continue
		}

		m := &methodType{method: method, handler: -1, hasResult: mt.NumOut() == 2}
		valid := true
		for j := 2; j < mt.NumIn(); j++ {
			t := mt.In(j)
			if t == handlerType {
				if m.handler >= 0 {
					valid = false
					break
				}
				m.handler = len(m.argTypes)
			}
			m.argTypes = append(m.argTypes, t)
		}
		if valid {
			s.methods[strings.ToLower(method.Name)] = m
		}
	}
}

// method finds a method by name, ignoring case.
func (s *service) method(name string) (*methodType, bool) {
	m, ok := s.methods[strings.ToLower(name)]
	return m, ok
}

// call invokes m on rcvr. The wire argument in the handler slot is ignored
// and handler is passed instead. A panic in the connector becomes a
// ConnectorException.
func (s *service) call(ctx context.Context, rcvr any, m *methodType, args []any, handler objects.ResultsHandler) (result any, err error) {
	if len(args) != len(m.argTypes) {
		return nil, exception.Newf(exception.KindConnector,
			"%s takes %d arguments, got %d", m.method.Name, len(m.argTypes), len(args))
	}

	in := make([]reflect.Value, 0, len(args)+2)
	in = append(in, reflect.ValueOf(rcvr), reflect.ValueOf(ctx))
	for i, t := range m.argTypes {
		if i == m.handler {
			in = append(in, reflect.ValueOf(handler))
			continue
		}
		v, err := argValue(args[i], t)
		if err != nil {
			return nil, exception.Newf(exception.KindConnector, "%s argument %d: %v", m.method.Name, i, err)
		}
		in = append(in, v)
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = exception.Newf(exception.KindConnector, "%s panicked: %v", m.method.Name, r)
		}
	}()

	out := m.method.Func.Call(in)
	if errv := out[len(out)-1]; !errv.IsNil() {
		return nil, errv.Interface().(error)
	}
	if m.hasResult {
		return out[0].Interface(), nil
	}
	return nil, nil
}

// argValue adapts a decoded argument to the parameter type.
func argValue(arg any, t reflect.Type) (reflect.Value, error) {
	if arg == nil {
		switch t.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("null for %s", t)
	}
	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(t) {
		return v, nil
	}
	return reflect.Value{}, fmt.Errorf("got %T, want %s", arg, t)
}
