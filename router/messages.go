package router

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// Methods the router reacts to or synthesizes.
const (
	MethodInitialize   = "initialize"
	MethodInitialized  = "initialized"
	MethodShowMessage  = "window/showMessage"
	MethodShowToast    = "window/_roslyn_showToast"
	MethodSolutionOpen = "solution/open"
	MethodProjectOpen  = "project/open"
)

// envelope is the part of a message the router looks at. Bodies are never
// decoded in full.
type envelope struct {
	Method string
	ID     string
	HasID  bool
}

func peek(body []byte) envelope {
	res := gjson.GetManyBytes(body, "method", "id")
	env := envelope{Method: res[0].String()}
	if res[1].Exists() && res[1].Type != gjson.Null {
		env.HasID = true
		env.ID = res[1].Raw
	}
	return env
}

type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

func newNotification(method string, params any) notification {
	return notification{JSONRPC: "2.0", Method: method, Params: params}
}

type solutionOpenParams struct {
	URI protocol.DocumentUri `json:"uri"`
}

type projectOpenParams struct {
	URIs []protocol.DocumentUri `json:"uris"`
}

// initializationOptions are the wrapper-specific options an editor may send
// with initialize.
type initializationOptions struct {
	// Solution is a path or file URI; it wins over Projects
	Solution string   `json:"solution"`
	Projects []string `json:"projects"`
	Logging  *struct {
		Level string `json:"level"`
	} `json:"logging"`
}

func (o initializationOptions) hasTarget() bool {
	return o.Solution != "" || len(o.Projects) > 0
}

// initializeRequest holds what the router captures from initialize.
type initializeRequest struct {
	RootURI          string
	RootPath         string
	WorkspaceFolders []protocol.WorkspaceFolder
	Options          initializationOptions
	// OptionsErr is set when initializationOptions did not decode
	OptionsErr error
}

func parseInitialize(body []byte) initializeRequest {
	params := gjson.GetBytes(body, "params")
	req := initializeRequest{
		RootURI:  params.Get("rootUri").String(),
		RootPath: params.Get("rootPath").String(),
	}
	if folders := params.Get("workspaceFolders"); folders.IsArray() {
		for _, f := range folders.Array() {
			if u := f.Get("uri").String(); u != "" {
				req.WorkspaceFolders = append(req.WorkspaceFolders, protocol.WorkspaceFolder{
					URI:  protocol.DocumentUri(u),
					Name: f.Get("name").String(),
				})
			}
		}
	}
	if opts := params.Get("initializationOptions"); opts.IsObject() {
		req.OptionsErr = json.Unmarshal([]byte(opts.Raw), &req.Options)
	}
	return req
}
