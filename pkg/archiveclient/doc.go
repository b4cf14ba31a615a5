/*
Package archiveclient is the one connection the SUMS archive worker holds
to the external archive manager: alloc, alloc2, get, put,
info, wait, close. That manager is explicitly out of scope beyond its
interface — we never generate its wire format, only consume it.

Rather than hand-writing protobuf message types without protoc (which
would be exactly the kind of fabricated stub this module avoids), Client
dials a plain google.golang.org/grpc connection and registers a JSON
codec under content-subtype "json" (see codec.go). Each RPC is an
untyped grpc.ClientConn.Invoke call against a fixed method path; the
request/response Go structs in this package are marshaled as JSON
instead of protobuf wire format. The archive manager's actual method
names and framing are unspecified by, so the method paths here
name our side of the contract; a production deployment point this
client at whatever concrete archive manager implements the matching
service.
*/
package archiveclient
