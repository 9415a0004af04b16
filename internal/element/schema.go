package element

// Validation limit constants
const (
	MaxStringLength = 1000
	MaxPointsInPath = 10000
	MaxCoordinate   = 1000000
	MinCoordinate   = -1000000
	MaxStrokeWidth  = 1000
	MaxFontSize     = 500
	MaxColorLength  = 50
)

var AllowedElementTypes = map[string]bool{
	"rectangle": true,
	"diamond":   true,
	"ellipse":   true,
	"arrow":     true,
	"line":      true,
	"freedraw":  true,
	"text":      true,
	"image":     true,
	"frame":     true,
}

func schemaForType(elType string) interface{} {
	switch elType {
	case "rectangle", "diamond", "ellipse":
		return &ShapeData{}
	case "arrow", "line":
		return &LinearData{}
	case "freedraw":
		return &FreedrawData{}
	case "text":
		return &TextData{}
	case "image":
		return &ImageData{}
	case "frame":
		return &FrameData{}
	default:
		return nil
	}
}

// =============================================================================
// Common Embedded Structs
// =============================================================================

// Bounds positions an element on the canvas
type Bounds struct {
	X      float64 `json:"x" validate:"min=-1000000,max=1000000"`
	Y      float64 `json:"y" validate:"min=-1000000,max=1000000"`
	Width  float64 `json:"width" validate:"min=-1000000,max=1000000"`
	Height float64 `json:"height" validate:"min=-1000000,max=1000000"`
	Angle  float64 `json:"angle,omitempty" validate:"omitempty,min=-7,max=7"`
}

type StyleProps struct {
	StrokeColor     string   `json:"strokeColor,omitempty" validate:"omitempty,max=50"`
	BackgroundColor string   `json:"backgroundColor,omitempty" validate:"omitempty,max=50"`
	FillStyle       string   `json:"fillStyle,omitempty" validate:"omitempty,max=50"`
	StrokeStyle     string   `json:"strokeStyle,omitempty" validate:"omitempty,max=50"`
	StrokeWidth     float64  `json:"strokeWidth,omitempty" validate:"omitempty,min=0,max=1000"`
	Roughness       float64  `json:"roughness,omitempty" validate:"omitempty,min=0,max=10"`
	Opacity         float64  `json:"opacity,omitempty" validate:"omitempty,min=0,max=100"`
	GroupIDs        []string `json:"groupIds,omitempty" validate:"omitempty,max=100,dive,max=128"`
	FrameID         string   `json:"frameId,omitempty" validate:"omitempty,max=128"`
	Locked          bool     `json:"locked,omitempty"`
}

// =============================================================================
// Shape Types
// =============================================================================

type ShapeData struct {
	Bounds
	StyleProps
}

type LinearData struct {
	Bounds
	StyleProps
	Points         [][]float64 `json:"points" validate:"required,min=2,max=10000,dive,len=2,dive,min=-1000000,max=1000000"`
	StartArrowhead string      `json:"startArrowhead,omitempty" validate:"omitempty,max=50"`
	EndArrowhead   string      `json:"endArrowhead,omitempty" validate:"omitempty,max=50"`
}

type FreedrawData struct {
	Bounds
	StyleProps
	Points    [][]float64 `json:"points" validate:"required,min=1,max=10000,dive,len=2,dive,min=-1000000,max=1000000"`
	Pressures []float64   `json:"pressures,omitempty" validate:"omitempty,max=10000,dive,min=0,max=1"`
}

// =============================================================================
// Content Types
// =============================================================================

type TextData struct {
	Bounds
	StyleProps
	Text          string  `json:"text" validate:"max=1000"`
	FontSize      float64 `json:"fontSize,omitempty" validate:"omitempty,min=1,max=500"`
	FontFamily    int     `json:"fontFamily,omitempty" validate:"omitempty,min=0,max=20"`
	TextAlign     string  `json:"textAlign,omitempty" validate:"omitempty,oneof=left center right"`
	VerticalAlign string  `json:"verticalAlign,omitempty" validate:"omitempty,oneof=top middle bottom"`
	ContainerID   string  `json:"containerId,omitempty" validate:"omitempty,max=128"`
}

type ImageData struct {
	Bounds
	StyleProps
	FileID string `json:"fileId,omitempty" validate:"omitempty,max=256"`
	Status string `json:"status,omitempty" validate:"omitempty,oneof=pending saved error"`
}

type FrameData struct {
	Bounds
	StyleProps
	Name string `json:"name,omitempty" validate:"omitempty,max=1000"`
}
