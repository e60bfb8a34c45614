package repository

// DefaultStyle is used when a search names no style.
const DefaultStyle = "flat vector illustration"

// Style is one image style a prompt can ask for.
type Style struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

var styles = []Style{
	{Value: DefaultStyle, Label: "Flat vector illustration"},
	{Value: "cartoon", Label: "Cartoon"},
	{Value: "photorealistic", Label: "Photorealistic"},
	{Value: "digital painting", Label: "Digital painting"},
	{Value: "line drawing", Label: "Line drawing"},
	{Value: "3d render", Label: "3D render"},
	{Value: "infographic", Label: "Infographic"},
}

// Styles returns the style options in display order.
func Styles() []Style {
	out := make([]Style, len(styles))
	copy(out, styles)

	return out
}
