package transport

const (
	MethodGraphGetNode  = "graph.getNode"
	MethodGraphPublish  = "graph.publish"
	MethodGraphChildren = "graph.children"
	MethodContentPut    = "content.put"
	MethodContentGet    = "content.get"

	// ContentMethodPrefix marks methods served by the content store rather
	// than the registry.
	ContentMethodPrefix = "content."
)

// PutParams carries a blob to the content store.
type PutParams struct {
	DataBase64 string `json:"data_base64"`
}

type PutResult struct {
	Locator string `json:"locator"`
}

type GetResult struct {
	DataBase64 string `json:"data_base64"`
}

// ChildrenResult lists the ids of nodes published under a parent, oldest
// first.
type ChildrenResult struct {
	Children []string `json:"children"`
}
