package websocket

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"

	"collab-server/collab"
	"collab-server/core"
)

type ackInvoker func(err error, payload map[string]any)

type (
	joinPayload struct {
		Resource core.ResourceKey `json:"resource"`
		Actor    core.Actor       `json:"actor"`
		Cursor   *core.Cursor     `json:"cursor,omitempty"`
	}

	resourcePayload struct {
		Resource core.ResourceKey `json:"resource"`
	}

	cursorPayload struct {
		Resource core.ResourceKey `json:"resource"`
		Cursor   core.Cursor      `json:"cursor"`
	}
)

// Gateway bridges socket.io clients to the collaboration service. The
// socket id doubles as the connection id, so one transport drop maps onto
// exactly one DisconnectConnection call and locks stay untouched.
type Gateway struct {
	srv *socketio.Server
	svc *collab.Service
}

func SetupSocketIO(svc *collab.Service) *Gateway {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})

	g := &Gateway{
		srv: socketio.NewServer(nil, opts),
		svc: svc,
	}

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	g.srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}
		g.handleConnection(socket)
	})

	return g
}

// Server exposes the underlying socket.io server for mounting and shutdown.
func (g *Gateway) Server() *socketio.Server { return g.srv }

// Emit implements hub.Emitter. Every socket joins a room named after its
// own id, which is what makes the sender exclusion work.
func (g *Gateway) Emit(room string, ev core.Event, excludeConnection string) {
	op := g.srv.In(socketio.Room(room))
	if excludeConnection != "" {
		op = op.Except(socketio.Room(excludeConnection))
	}
	_ = op.Emit(ev.Name, ev.Payload)
}

func (g *Gateway) handleConnection(socket *socketio.Socket) {
	me := string(socket.Id())
	log := logrus.WithField("connection", me)
	log.Debug("socket connected")

	_ = socket.Emit("collab-ready", map[string]any{"connection_id": me})

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	socket.On("join-resource", func(datas ...any) {
		ack, args := extractAck(datas)

		var req joinPayload
		if err := decodeFirst(args, &req); err != nil {
			respondWithAck(socket, ack, "join-resource-ack", errorPayload(err), err)
			return
		}
		if !req.Resource.Kind.Valid() || req.Resource.ID == "" || req.Actor.ActorID == "" {
			err := fmt.Errorf("invalid resource or actor")
			respondWithAck(socket, ack, "join-resource-ack", errorPayload(err), err)
			return
		}

		socket.Join(socketio.Room(req.Resource.Room()))
		roster := g.svc.Presence.Join(req.Resource, me, req.Actor, req.Cursor)
		log.WithField("room", req.Resource.Room()).Debug("joined resource")

		respondWithAck(socket, ack, "join-resource-ack", map[string]any{
			"status": "ok",
			"roster": roster,
		}, nil)
	})

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	socket.On("leave-resource", func(datas ...any) {
		ack, args := extractAck(datas)

		var req resourcePayload
		if err := decodeFirst(args, &req); err != nil {
			respondWithAck(socket, ack, "leave-resource-ack", errorPayload(err), err)
			return
		}

		socket.Leave(socketio.Room(req.Resource.Room()))
		g.svc.Presence.Leave(req.Resource, me)
		respondWithAck(socket, ack, "leave-resource-ack", map[string]any{"status": "ok"}, nil)
	})

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	socket.On("watch-resource", func(datas ...any) {
		ack, args := extractAck(datas)

		var req resourcePayload
		if err := decodeFirst(args, &req); err != nil {
			respondWithAck(socket, ack, "watch-resource-ack", errorPayload(err), err)
			return
		}

		socket.Join(socketio.Room(req.Resource.Room()))
		respondWithAck(socket, ack, "watch-resource-ack", map[string]any{"status": "ok"}, nil)
	})

	socket.On("unwatch-resource", func(datas ...any) {
		_, args := extractAck(datas)

		var req resourcePayload
		if err := decodeFirst(args, &req); err != nil {
			return
		}
		socket.Leave(socketio.Room(req.Resource.Room()))
	})

	socket.On("cursor-update", func(datas ...any) {
		var req cursorPayload
		if err := decodeFirst(datas, &req); err != nil {
			return
		}
		g.svc.Presence.UpdateCursor(req.Resource, me, req.Cursor)
	})

	socket.On("presence-heartbeat", func(datas ...any) {
		var req resourcePayload
		if err := decodeFirst(datas, &req); err != nil {
			return
		}
		g.svc.Presence.Heartbeat(req.Resource, me)
	})

	socket.On("disconnecting", func(datas ...any) {
		g.svc.DisconnectConnection(me)
		log.Debug("socket disconnecting")
	})

	socket.On("disconnect", func(datas ...any) {
		socket.RemoveAllListeners("")
		socket.Disconnect(true)
	})
}

// decodeFirst unmarshals the first event argument into dst. Socket.IO hands
// payloads over as map[string]any, so a JSON round trip is the cheapest way
// into a typed struct.
func decodeFirst(args []any, dst any) error {
	if len(args) == 0 {
		return fmt.Errorf("missing payload")
	}
	raw, err := json.Marshal(args[0])
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func errorPayload(err error) map[string]any {
	return map[string]any{
		"status": "error",
		"error":  err.Error(),
	}
}

func extractAck(datas []any) (ack ackInvoker, args []any) {
	if len(datas) == 0 {
		return nil, datas
	}

	candidate := datas[len(datas)-1]
	ack = wrapAck(candidate)
	if ack == nil {
		return nil, datas
	}

	return ack, datas[:len(datas)-1]
}

func wrapAck(candidate any) ackInvoker {
	if candidate == nil {
		return nil
	}

	value := reflect.ValueOf(candidate)
	if !value.IsValid() || value.Kind() != reflect.Func {
		return nil
	}

	typ := value.Type()
	return func(err error, payload map[string]any) {
		args := buildAckArgs(typ, err, payload)
		value.Call(args)
	}
}

func buildAckArgs(typ reflect.Type, err error, payload map[string]any) []reflect.Value {
	numIn := typ.NumIn()
	args := make([]reflect.Value, numIn)

	for i := 0; i < numIn; i++ {
		paramType := typ.In(i)
		var argValue any

		switch {
		case numIn == 1:
			if err != nil {
				argValue = err
			} else {
				argValue = payload
			}
		case i == 0:
			argValue = err
		case i == 1:
			argValue = payload
		default:
			argValue = nil
		}

		args[i] = coerceValue(argValue, paramType)
	}

	return args
}

func coerceValue(value any, targetType reflect.Type) reflect.Value {
	if value == nil {
		return reflect.Zero(targetType)
	}

	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(targetType) {
		return rv
	}

	if rv.Type().ConvertibleTo(targetType) {
		return rv.Convert(targetType)
	}

	if targetType.Kind() == reflect.Interface {
		if rv.Type().Implements(targetType) || targetType.NumMethod() == 0 {
			return rv
		}
	}

	if targetType.Kind() == reflect.String {
		return reflect.ValueOf(fmt.Sprint(value)).Convert(targetType)
	}

	if targetType.Kind() == reflect.Map && targetType.Key().Kind() == reflect.String {
		if payload, ok := value.(map[string]any); ok {
			return convertMap(payload, targetType)
		}
	}

	return reflect.Zero(targetType)
}

func convertMap(source map[string]any, targetType reflect.Type) reflect.Value {
	result := reflect.MakeMapWithSize(targetType, len(source))
	for key, val := range source {
		keyValue := reflect.ValueOf(key).Convert(targetType.Key())
		valueValue := reflect.ValueOf(val)
		if !valueValue.Type().AssignableTo(targetType.Elem()) {
			if valueValue.Type().ConvertibleTo(targetType.Elem()) {
				valueValue = valueValue.Convert(targetType.Elem())
			} else if targetType.Elem().Kind() != reflect.Interface {
				continue
			}
		}
		result.SetMapIndex(keyValue, valueValue)
	}
	return result
}

func respondWithAck(socket *socketio.Socket, ack ackInvoker, event string, payload map[string]any, ackErr error) {
	if ack != nil {
		ack(ackErr, payload)
		return
	}

	if event != "" && payload != nil {
		_ = socket.Emit(event, payload)
	}
}
