// Package web is the server-rendered surface: registration, email
// verification, login and logout, password reset, and profile editing.
// Pages are html/template views; every mutating flow answers with a
// redirect so a refresh never replays the form.
package web
