package web

import (
	"errors"
	"net/http"

	"github.com/kindredhq/kindred/pkg/audit"
	"github.com/kindredhq/kindred/pkg/authz"
	"github.com/kindredhq/kindred/pkg/httputil"
	"github.com/kindredhq/kindred/pkg/session"
	"github.com/kindredhq/kindred/pkg/user"
)

// pageData is what every view renders with.
type pageData struct {
	Title    string
	LoggedIn bool
	User     *user.User
	Flashes  []session.Flash
	Form     formData
}

type formData struct {
	Name  string
	Email string
	Token string
}

// notices maps the codes that ride on a redirect's query string to the
// message shown on the next page. Anonymous visitors have no session to
// carry a flash, so the sign-up and reset flows communicate this way.
var notices = map[string]session.Flash{
	"registered": {Kind: "success", Message: "Account created. Check your email for a verification link."},
	"verified":   {Kind: "success", Message: "Email verified. You can log in now."},
	"reset-sent": {Kind: "success", Message: "If that email has an account, a reset link is on its way."},
	"reset-done": {Kind: "success", Message: "Password updated. Log in with your new password."},
	"logged-out": {Kind: "success", Message: "You have been logged out."},
}

// page assembles the render data for a request: session flashes are popped
// and persisted away, notice codes become flashes, and the logged-in user
// is loaded when there is one.
func (s *Server) page(r *http.Request, title string) pageData {
	data := pageData{Title: title}

	if code := r.URL.Query().Get("notice"); code != "" {
		if flash, ok := notices[code]; ok {
			data.Flashes = append(data.Flashes, flash)
		}
	}

	sess, err := s.sessions.Current(r)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			s.logger.WithError(err).Error("session lookup failed")
		}
		return data
	}

	if flashes := sess.PopFlashes(); len(flashes) > 0 {
		data.Flashes = append(data.Flashes, flashes...)
		if err := s.sessions.Save(r.Context(), sess); err != nil {
			s.logger.WithError(err).Error("failed to clear flashes")
		}
	}

	data.LoggedIn = true
	if u, err := s.users.Get(r.Context(), sess.UserID); err == nil {
		data.User = u
	} else {
		s.logger.WithError(err).WithField("user_id", sess.UserID).Error("failed to load session user")
	}
	return data
}

func (s *Server) render(w http.ResponseWriter, name string, data pageData) {
	if err := s.templates.Render(w, name, data); err != nil {
		s.logger.WithError(err).WithField("template", name).Error("render failed")
		httputil.WriteInternalError(w, errors.New("internal server error"))
	}
}

// withError re-renders a form with an inline error flash.
func (s *Server) withError(w http.ResponseWriter, name string, data pageData, message string) {
	data.Flashes = append(data.Flashes, session.Flash{Kind: "error", Message: message})
	s.render(w, name, data)
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	s.render(w, "home.html", s.page(r, "Home"))
}

func (s *Server) handleRegisterForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, "register.html", s.page(r, "Register"))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteBadRequest(w, "malformed form")
		return
	}

	name := r.PostFormValue("name")
	email := r.PostFormValue("email")
	password := r.PostFormValue("password")

	_, err := s.users.Register(r.Context(), name, email, password)
	if err != nil {
		data := s.page(r, "Register")
		data.Form = formData{Name: name, Email: email}
		message := err.Error()
		if errors.Is(err, user.ErrEmailTaken) {
			message = "That email already has an account. Try logging in instead."
		}
		s.withError(w, "register.html", data, message)
		return
	}

	http.Redirect(w, r, "/login?notice=registered", http.StatusFound)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		httputil.WriteBadRequest(w, "missing token")
		return
	}

	_, err := s.users.Verify(r.Context(), token)
	switch {
	case errors.Is(err, user.ErrTokenExpired):
		s.withError(w, "login.html", s.page(r, "Log in"), "That verification link has expired. Register again to get a new one.")
	case err != nil:
		s.withError(w, "login.html", s.page(r, "Log in"), "That verification link is not valid.")
	default:
		http.Redirect(w, r, "/login?notice=verified", http.StatusFound)
	}
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, "login.html", s.page(r, "Log in"))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteBadRequest(w, "malformed form")
		return
	}

	email := r.PostFormValue("email")
	password := r.PostFormValue("password")

	u, err := s.users.Authenticate(r.Context(), email, password)
	if err != nil {
		_ = s.auditor.Log(audit.Event{
			EventType: audit.EventTypeAuthLoginFailed,
			Transport: "http",
			Email:     email,
			Reason:    err.Error(),
			RequestID: httputil.GetRequestID(r.Context()),
		})

		data := s.page(r, "Log in")
		data.Form = formData{Email: email}
		if errors.Is(err, user.ErrNotVerified) {
			s.withError(w, "login.html", data, "Verify your email before logging in. Check your inbox for the link.")
			return
		}
		s.withError(w, "login.html", data, "Invalid email or password.")
		return
	}

	if _, err := s.sessions.Login(r.Context(), w, u.ID, u.Email, u.IsAdmin, u.NoAccess); err != nil {
		s.logger.WithError(err).Error("failed to create session")
		httputil.WriteInternalError(w, errors.New("internal server error"))
		return
	}

	_ = s.auditor.Log(audit.Event{
		EventType:   audit.EventTypeAuthLogin,
		Transport:   "http",
		PrincipalID: u.ID,
		Email:       u.Email,
		RequestID:   httputil.GetRequestID(r.Context()),
	})
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, _ := s.sessions.Current(r)
	if err := s.sessions.Logout(r.Context(), w, r); err != nil {
		s.logger.WithError(err).Error("logout failed")
	}
	if sess != nil {
		_ = s.auditor.Log(audit.Event{
			EventType:   audit.EventTypeAuthLogout,
			Transport:   "http",
			PrincipalID: sess.UserID,
			Email:       sess.Email,
			RequestID:   httputil.GetRequestID(r.Context()),
		})
	}
	http.Redirect(w, r, "/login?notice=logged-out", http.StatusFound)
}

func (s *Server) handleForgotForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, "forgot.html", s.page(r, "Forgot password"))
}

func (s *Server) handleForgot(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteBadRequest(w, "malformed form")
		return
	}

	if err := s.users.RequestReset(r.Context(), r.PostFormValue("email")); err != nil {
		s.logger.WithError(err).Error("reset request failed")
	}
	// Same answer whether or not the account exists.
	http.Redirect(w, r, "/login?notice=reset-sent", http.StatusFound)
}

func (s *Server) handleResetForm(w http.ResponseWriter, r *http.Request) {
	data := s.page(r, "Reset password")
	data.Form.Token = r.URL.Query().Get("token")
	if data.Form.Token == "" {
		httputil.WriteBadRequest(w, "missing token")
		return
	}
	s.render(w, "reset.html", data)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteBadRequest(w, "malformed form")
		return
	}

	token := r.PostFormValue("token")
	password := r.PostFormValue("password")

	err := s.users.ResetPassword(r.Context(), token, password)
	switch {
	case errors.Is(err, user.ErrInvalidToken), errors.Is(err, user.ErrTokenExpired):
		s.withError(w, "forgot.html", s.page(r, "Reset password"),
			"That reset link is no longer valid. Request a new one.")
	case err != nil:
		data := s.page(r, "Reset password")
		data.Form.Token = token
		s.withError(w, "reset.html", data, err.Error())
	default:
		http.Redirect(w, r, "/login?notice=reset-done", http.StatusFound)
	}
}

func (s *Server) handleProfileForm(w http.ResponseWriter, r *http.Request) {
	principal := authz.PrincipalFrom(r.Context())
	data := s.page(r, "Your profile")
	if data.User == nil || data.User.ID != principal.ID {
		httputil.WriteInternalError(w, errors.New("internal server error"))
		return
	}
	s.render(w, "profile.html", data)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteBadRequest(w, "malformed form")
		return
	}

	principal := authz.PrincipalFrom(r.Context())
	p := user.Profile{Name: r.PostFormValue("name"), Bio: r.PostFormValue("bio")}
	if err := s.users.UpdateProfile(r.Context(), principal.ID, p); err != nil {
		data := s.page(r, "Your profile")
		s.withError(w, "profile.html", data, err.Error())
		return
	}

	if sess, err := s.sessions.Current(r); err == nil {
		sess.AddFlash("success", "Profile updated.")
		if err := s.sessions.Save(r.Context(), sess); err != nil {
			s.logger.WithError(err).Error("failed to persist flash")
		}
	}
	http.Redirect(w, r, "/profile", http.StatusFound)
}
