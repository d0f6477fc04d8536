// Package authz implements the permission guard: layered RBAC plus
// attribute-based policy evaluation with deny-override precedence.
//
// Evaluation order is fixed: active deny policies (priority descending),
// API-key scoped permissions, role permissions, then allow policies. The
// first decisive outcome wins and a matching deny is always final.
//
// Decisions are cached per (user, resource, action, resource-data hash) with
// a TTL; any policy mutation purges the whole cache. Every check also feeds a
// per-(user, resource, action) access-pattern record used purely for anomaly
// flagging.
package authz
