// Package menu stores the console navigation tree and turns it into the
// nested payloads the console renders.
//
// Nodes form an adjacency list: each node has at most one parent, and
// deleting a node removes its whole subtree. Three node types exist:
//
//   - DIRECTORY groups other nodes
//   - MENU is a routable page
//   - BUTTON is an action on its parent page; it never becomes a route and
//     is reported through the parent's permission codes instead
//
// # Trees
//
// Serialisation walks an id → children index with a visited set and a
// depth cap, so rows that form a cycle are dropped instead of recursing
// forever. Siblings are ordered by Order, then ID.
//
// # Writes
//
// Create accepts nested children to any depth and inserts the whole payload
// in one transaction. Update merges an explicit allow-list of fields and can
// patch direct children by ID in the same transaction; child IDs that are
// not direct children of the target are ignored.
//
// # Routes
//
// BuildRoutes produces the /async-routes payload for a Scope: the super role
// sees every enabled node, everyone else sees granted nodes and the
// ancestors needed to reach them. A disabled node hides its subtree.
package menu
