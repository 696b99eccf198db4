// Package ws is the push channel: a websocket endpoint carrying JSON
// envelope messages both ways.
//
// # Overview
//
// Inbound requests ({"type": ...}): register, requestOpenGames,
// requestLeaderboard, requestBacklog, requestResolution, requestPoints,
// acknowledge, acknowledgeBatch, markViewed, remove. Outbound pushes use
// the same envelope: openGames, leaderboard, backlog, gameJoined,
// gameResolved, pointsChanged, resolutionResult, points, error.
//
// Each connection has a single-writer pump with ping keepalive and a
// bounded send buffer; a slow client loses pushes instead of stalling the
// relay. Long-running lookups (requestResolution, requestPoints) run off
// the read loop so the connection stays responsive.
package ws
