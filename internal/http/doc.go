// Package http provides HTTP handlers and middleware for the counselling API.
//
// The router exposes the following endpoints:
//   - GET /healthz: pings the session store. Returns {"status":"ok"} or 503.
//   - GET /metrics: Prometheus scrape endpoint.
//   - GET /api/counsellors, GET /api/counsellors/{id}: read-only directory view
//     exchanging the `counsellorDTO` payload defined in counsellor_handler.go.
//   - GET /api/counsellors/{id}/slots: open one hour slots over the configured
//     horizon as `slotDTO` values.
//   - GET /api/sessions?counsellor_id=&student_id=&status=: sessions in display
//     order. Populated filters are combined.
//   - GET /api/sessions/export.xlsx: the same listing as a spreadsheet.
//   - POST /api/sessions: books a slot. Body is `bookRequest`.
//   - GET /api/sessions/{id}: a single `sessionDTO`.
//   - POST /api/sessions/{id}/confirm, /cancel {"reason"}, /reschedule
//     {"date","start_time"}, /complete {"report"}: lifecycle transitions.
//
// Every error body is an `errorResponse` with a stable `error_code`. When an API
// key hash is configured, /api requests must carry `Authorization: Bearer <key>`.
//
// Request/response DTOs live alongside their respective handlers so tests and
// documentation share the same ground truth.
package http
