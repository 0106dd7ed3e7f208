// Package catalogpb holds the wire messages and client/server stubs for
// the Definition Engine gRPC service (spec §6): SyncCatalog and
// GetCommand. Hand-maintained in the pre-APIv2 generated-code shape
// (Reset/String/ProtoMessage plus protobuf struct tags) so it works with
// google.golang.org/protobuf's legacy-message support without requiring
// a protoc run.
package catalogpb

import "fmt"

// Empty carries no fields; used as the SyncCatalog request.
type Empty struct{}

func (m *Empty) Reset()         { *m = Empty{} }
func (m *Empty) String() string { return "Empty{}" }
func (m *Empty) ProtoMessage()  {}

// CommandEntry is one catalog entry as carried on the wire: the signed
// bytecode plus the metadata needed to bind arguments.
type CommandEntry struct {
	Name          string `protobuf:"bytes,1,opt,name=name,proto3" json:"name,omitempty"`
	Type          string `protobuf:"bytes,2,opt,name=type,proto3" json:"type,omitempty"`
	InterfaceJson string `protobuf:"bytes,3,opt,name=interface_json,json=interfaceJson,proto3" json:"interface_json,omitempty"`
	Code          []byte `protobuf:"bytes,4,opt,name=code,proto3" json:"code,omitempty"`
	Hash          string `protobuf:"bytes,5,opt,name=hash,proto3" json:"hash,omitempty"`
}

func (m *CommandEntry) Reset()         { *m = CommandEntry{} }
func (m *CommandEntry) String() string { return fmt.Sprintf("CommandEntry{Name:%s}", m.Name) }
func (m *CommandEntry) ProtoMessage()  {}

// CatalogResponse is the SyncCatalog RPC result: the full command set
// plus a version hash the caller can log for audit.
type CatalogResponse struct {
	Commands    []*CommandEntry `protobuf:"bytes,1,rep,name=commands,proto3" json:"commands,omitempty"`
	TotalCount  int32           `protobuf:"varint,2,opt,name=total_count,json=totalCount,proto3" json:"total_count,omitempty"`
	VersionHash string          `protobuf:"bytes,3,opt,name=version_hash,json=versionHash,proto3" json:"version_hash,omitempty"`
}

func (m *CatalogResponse) Reset() { *m = CatalogResponse{} }
func (m *CatalogResponse) String() string {
	return fmt.Sprintf("CatalogResponse{count:%d version:%s}", m.TotalCount, m.VersionHash)
}
func (m *CatalogResponse) ProtoMessage() {}

// CommandRequest is the GetCommand RPC argument: a single command name.
type CommandRequest struct {
	Name string `protobuf:"bytes,1,opt,name=name,proto3" json:"name,omitempty"`
}

func (m *CommandRequest) Reset()         { *m = CommandRequest{} }
func (m *CommandRequest) String() string { return fmt.Sprintf("CommandRequest{Name:%s}", m.Name) }
func (m *CommandRequest) ProtoMessage()  {}

// CommandResponse is the GetCommand RPC result: a single catalog entry.
type CommandResponse struct {
	Name          string `protobuf:"bytes,1,opt,name=name,proto3" json:"name,omitempty"`
	Type          string `protobuf:"bytes,2,opt,name=type,proto3" json:"type,omitempty"`
	InterfaceJson string `protobuf:"bytes,3,opt,name=interface_json,json=interfaceJson,proto3" json:"interface_json,omitempty"`
	Code          []byte `protobuf:"bytes,4,opt,name=code,proto3" json:"code,omitempty"`
	Hash          string `protobuf:"bytes,5,opt,name=hash,proto3" json:"hash,omitempty"`
}

func (m *CommandResponse) Reset()         { *m = CommandResponse{} }
func (m *CommandResponse) String() string { return fmt.Sprintf("CommandResponse{Name:%s}", m.Name) }
func (m *CommandResponse) ProtoMessage()  {}
