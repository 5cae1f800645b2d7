package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrInvalidAction = errors.New("invalid drawing action")

type Tool string

const (
	ToolPen       Tool = "pen"
	ToolRectangle Tool = "rectangle"
	ToolCircle    Tool = "circle"
	ToolLine      Tool = "line"
	ToolEraser    Tool = "eraser"
	ToolText      Tool = "text"
)

func (t Tool) Valid() bool {
	switch t {
	case ToolPen, ToolRectangle, ToolCircle, ToolLine, ToolEraser, ToolText:
		return true
	}
	return false
}

// Continuous tools emit one segment per pointer move instead of a single
// action on pointer-up.
func (t Tool) Continuous() bool {
	return t == ToolPen || t == ToolEraser
}

type Point struct {
	X float64 `json:"x" bson:"x"`
	Y float64 `json:"y" bson:"y"`
}

// Segment is the geometry shared by every two-point tool.
type Segment struct {
	From  Point
	To    Point
	Color string
	Size  float64
}

// Shape is the tool-specific payload of an Action. The set of
// implementations is closed: Pen, Line, Rectangle, Circle, Eraser and Text.
type Shape interface {
	Tool() Tool
	shape()
}

type Pen struct{ Segment }

type Line struct{ Segment }

type Rectangle struct{ Segment }

// Circle is centred at From; the radius is the distance from From to To.
type Circle struct{ Segment }

// Eraser carries no color: it always removes paint.
type Eraser struct {
	From Point
	To   Point
	Size float64
}

type Text struct {
	At    Point
	Color string
	Size  float64
	Body  string
}

func (Pen) Tool() Tool       { return ToolPen }
func (Line) Tool() Tool      { return ToolLine }
func (Rectangle) Tool() Tool { return ToolRectangle }
func (Circle) Tool() Tool    { return ToolCircle }
func (Eraser) Tool() Tool    { return ToolEraser }
func (Text) Tool() Tool      { return ToolText }

func (Pen) shape()       {}
func (Line) shape()      {}
func (Rectangle) shape() {}
func (Circle) shape()    {}
func (Eraser) shape()    {}
func (Text) shape()      {}

// NewShape builds the variant for tool from the gesture anchors. Text shapes
// are built with NewText instead.
func NewShape(tool Tool, from, to Point, color string, size float64) (Shape, error) {
	seg := Segment{From: from, To: to, Color: color, Size: size}
	switch tool {
	case ToolPen:
		return Pen{seg}, nil
	case ToolLine:
		return Line{seg}, nil
	case ToolRectangle:
		return Rectangle{seg}, nil
	case ToolCircle:
		return Circle{seg}, nil
	case ToolEraser:
		return Eraser{From: from, To: to, Size: size}, nil
	}
	return nil, fmt.Errorf("%w: tool %q has no two-point shape", ErrInvalidAction, tool)
}

func NewText(at Point, color string, size float64, body string) (Shape, error) {
	if body == "" {
		return nil, fmt.Errorf("%w: empty text", ErrInvalidAction)
	}
	return Text{At: at, Color: color, Size: size, Body: body}, nil
}

// Action is one drawing operation exchanged between clients. Timestamp is
// zero until the feed has persisted it.
type Action struct {
	Shape     Shape
	ClientID  string
	Timestamp time.Time
}

// ActionRecord is the flat wire and storage form of an Action.
type ActionRecord struct {
	Tool      Tool      `json:"tool" bson:"tool" validate:"required,oneof=pen rectangle circle line eraser text"`
	From      Point     `json:"from" bson:"from"`
	To        Point     `json:"to" bson:"to"`
	Color     string    `json:"color,omitempty" bson:"color,omitempty" validate:"omitempty,hexcolor"`
	Size      float64   `json:"size" bson:"size" validate:"gt=0,lte=200"`
	Text      string    `json:"text,omitempty" bson:"text,omitempty" validate:"required_if=Tool text,excluded_unless=Tool text,max=2000"`
	ClientID  string    `json:"clientId" bson:"client_id" validate:"required,max=128"`
	Timestamp time.Time `json:"timestamp,omitempty" bson:"-"`
}

func (a Action) Record() ActionRecord {
	rec := ActionRecord{ClientID: a.ClientID, Timestamp: a.Timestamp}
	switch s := a.Shape.(type) {
	case Pen:
		rec.fill(ToolPen, s.Segment)
	case Line:
		rec.fill(ToolLine, s.Segment)
	case Rectangle:
		rec.fill(ToolRectangle, s.Segment)
	case Circle:
		rec.fill(ToolCircle, s.Segment)
	case Eraser:
		rec.Tool, rec.From, rec.To, rec.Size = ToolEraser, s.From, s.To, s.Size
	case Text:
		rec.Tool, rec.From, rec.To = ToolText, s.At, s.At
		rec.Color, rec.Size, rec.Text = s.Color, s.Size, s.Body
	}
	return rec
}

func (r *ActionRecord) fill(tool Tool, seg Segment) {
	r.Tool = tool
	r.From, r.To = seg.From, seg.To
	r.Color, r.Size = seg.Color, seg.Size
}

// Action converts the record back into its tagged form, enforcing the
// text/tool invariant.
func (r ActionRecord) Action() (Action, error) {
	var (
		shape Shape
		err   error
	)
	switch {
	case r.Tool == ToolText:
		shape, err = NewText(r.From, r.Color, r.Size, r.Text)
	case !r.Tool.Valid():
		err = fmt.Errorf("%w: unknown tool %q", ErrInvalidAction, r.Tool)
	case r.Text != "":
		err = fmt.Errorf("%w: text on %s action", ErrInvalidAction, r.Tool)
	default:
		shape, err = NewShape(r.Tool, r.From, r.To, r.Color, r.Size)
	}
	if err != nil {
		return Action{}, err
	}
	return Action{Shape: shape, ClientID: r.ClientID, Timestamp: r.Timestamp}, nil
}

func (a Action) Tool() Tool {
	if a.Shape == nil {
		return ""
	}
	return a.Shape.Tool()
}

func (a Action) MarshalJSON() ([]byte, error) {
	if a.Shape == nil {
		return nil, fmt.Errorf("%w: missing shape", ErrInvalidAction)
	}
	rec := a.Record()
	if rec.Timestamp.IsZero() {
		return json.Marshal(struct {
			ActionRecord
			Timestamp *time.Time `json:"timestamp,omitempty"`
		}{ActionRecord: rec})
	}
	return json.Marshal(rec)
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var rec ActionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	decoded, err := rec.Action()
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

type AppendActionResponse struct {
	Timestamp time.Time `json:"timestamp"`
}
