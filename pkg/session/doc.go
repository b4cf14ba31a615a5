/*
Package session implements the client-tier runtime: the process-local
state a program accumulates between opening a catalog connection and
calling close_all, built around a relational catalog session and a
storage-unit manager instead of a cluster control plane.

A Session owns:

 - a catalog.Session (one reserved *sql.Conn; callers must serialize
 their use of it, matching the single connection per session a
 catalog driver enforces)
 - a template cache, so repeated access to the same series only issues
 the header/segments/links/keywords queries once
 - a committed-record cache, populated by Retrieve and consulted by the
 keyword lookup algorithm (pkg/links) when a link points at a record
 already open in this session
 - a temp-record registry for records created by NewRecord but not yet
 committed, keyed by a negative handle so it never collides with a
 real recnum

Session implements links.TemplateSource and links.RecordSource, and
hands its embedded *catalog.Session to links.Resolver as the
links.CatalogQuerier, so Lookup drives the same iterative,
depth-bounded link-following algorithm catalog and links were built
around.

close_all(action) is the commit/abort boundary described in:
action "commit" gives each temp record a real recnum, asks the manager
to mark its storage-unit slot FULL, and batches every series' temp
records into one InsertRecords call per series; action "abort" drops
the temp records without writing to the catalog and leaves the slots
they were allocated as they are.
*/
package session
