package realtime

type routeKind int

const (
	kindMutation routeKind = iota + 1
	kindPageSwitch
	kindPresence
)

type roomScope int

const (
	scopeNone roomScope = iota
	scopePage
	scopeBoard
	// scopePageOrBoard targets the page room when the payload names a page,
	// otherwise the board room.
	scopePageOrBoard
)

type route struct {
	kind     routeKind
	scope    roomScope
	required string
}

var routes = map[string]route{
	TypePageSwitch:   {kind: kindPageSwitch},
	TypeShapeAdd:     {kind: kindMutation, scope: scopePage, required: "shape"},
	TypeShapeUpdate:  {kind: kindMutation, scope: scopePage, required: "shape"},
	TypeShapeDelete:  {kind: kindMutation, scope: scopePage, required: "shapeId"},
	TypePageSettings: {kind: kindMutation, scope: scopePage},
	TypeAssetAdd:     {kind: kindMutation, scope: scopeBoard},
	TypeCanvasEvent:  {kind: kindMutation, scope: scopePageOrBoard, required: "event"},
	TypeCursor:       {kind: kindPresence, scope: scopePage},
}

func lookupRoute(msgType string) (route, bool) {
	r, ok := routes[msgType]
	return r, ok
}
