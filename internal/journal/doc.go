// Package journal keeps a local record of controller activity: every event
// dispatched to subscribers and every mastership transition.
//
// Records land in SQLite (event_history, mastership_audit) and, when
// configured, in InfluxDB as points. The Recorder is wired as the
// subscription manager's event observer and the mastership managers'
// observer; the control API reads history back through the Repository.
package journal
