package workflow

// HandleKind tags the payload type carried over an edge.
type HandleKind string

const (
	HandleText  HandleKind = "text"
	HandleImage HandleKind = "image"
	HandleVideo HandleKind = "video"
)

// Handle ids used on node ports.
const (
	HandleTextOut  = "text-out"
	HandleImageOut = "image-out"
	HandleVideoOut = "video-out"
	HandleSystemIn = "system-in"
	HandleUserIn   = "user-in"
	HandleImagesIn = "images-in"
	HandleImageIn  = "image-in"
	HandleVideoIn  = "video-in"
)

type port struct {
	id   string
	kind HandleKind
}

var outputPorts = map[NodeType][]port{
	NodeTypeText:         {{HandleTextOut, HandleText}},
	NodeTypeLLM:          {{HandleTextOut, HandleText}},
	NodeTypeUploadImage:  {{HandleImageOut, HandleImage}},
	NodeTypeCropImage:    {{HandleImageOut, HandleImage}},
	NodeTypeExtractFrame: {{HandleImageOut, HandleImage}},
	NodeTypeUploadVideo:  {{HandleVideoOut, HandleVideo}},
}

var inputPorts = map[NodeType][]port{
	NodeTypeLLM: {
		{HandleSystemIn, HandleText},
		{HandleUserIn, HandleText},
		{HandleImagesIn, HandleImage},
	},
	NodeTypeCropImage:    {{HandleImageIn, HandleImage}},
	NodeTypeExtractFrame: {{HandleVideoIn, HandleVideo}},
}

// OutputKind returns the kind of the named output handle on a node type.
func OutputKind(t NodeType, handle string) (HandleKind, bool) {
	return lookup(outputPorts[t], handle)
}

// InputKind returns the kind of the named input handle on a node type.
func InputKind(t NodeType, handle string) (HandleKind, bool) {
	return lookup(inputPorts[t], handle)
}

// MultiInput reports whether an input handle accepts several edges.
func MultiInput(handle string) bool {
	return handle == HandleImagesIn
}

func lookup(ports []port, handle string) (HandleKind, bool) {
	for _, p := range ports {
		if p.id == handle {
			return p.kind, true
		}
	}
	return "", false
}
