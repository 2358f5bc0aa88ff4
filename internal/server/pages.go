package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/physicstutor/tutorportal/internal/auth"
	"github.com/physicstutor/tutorportal/internal/guard"
	"github.com/physicstutor/tutorportal/internal/session"
	"github.com/physicstutor/tutorportal/internal/validation"
)

const (
	tabSignUp = "signup"
	tabLogIn  = "login"

	// signInWait bounds how long a sign-in response waits for the profile
	// before redirecting anyway; the guard then shows the waiting page
	signInWait = 10 * time.Second
)

// adminSections are the admin shells behind the admin guard
var adminSections = []string{"sessions", "media", "courses", "users"}

// page is the data every template receives
type page struct {
	Title    string
	State    session.State
	Error    string
	Notice   string
	Tab      string
	From     string
	Email    string
	FullName string
	Section  string
	Sections []string
}

func (s *Server) render(c *gin.Context, status int, name string, p page) {
	p.State = visitorState(c)
	c.Header("Cache-Control", "no-store")
	c.HTML(status, name, p)
}

func (s *Server) indexPage(c *gin.Context) {
	s.render(c, http.StatusOK, "index.html", page{Title: "Physics Tutoring"})
}

func (s *Server) signUpPage(c *gin.Context) {
	s.authPage(c, tabSignUp)
}

func (s *Server) logInPage(c *gin.Context) {
	s.authPage(c, tabLogIn)
}

// authPage shows the sign-up/log-in tabs. A visitor who is already signed
// in goes straight on.
func (s *Server) authPage(c *gin.Context, tab string) {
	from := guard.SafeFrom(c.Query(guard.FromParam))

	state := visitorState(c)
	if state.IsAuthenticated() && !state.Loading {
		c.Redirect(http.StatusFound, guard.AfterSignIn(state, from))
		return
	}

	s.render(c, http.StatusOK, "signup.html", page{Title: "Sign up or log in", Tab: tab, From: from})
}

func (s *Server) signUp(c *gin.Context) {
	app := appFrom(c)
	from := guard.SafeFrom(c.PostForm(guard.FromParam))

	var form validation.SignUpForm
	if err := c.ShouldBind(&form); err != nil {
		s.render(c, http.StatusBadRequest, "signup.html", page{Title: "Sign up or log in", Tab: tabSignUp, From: from, Error: "Please fill in the form."})
		return
	}

	out, err := app.Service.SignUp(c.Request.Context(), form)
	if err != nil {
		s.render(c, http.StatusUnprocessableEntity, "signup.html", page{
			Title:    "Sign up or log in",
			Tab:      tabSignUp,
			From:     from,
			Error:    auth.Message(err),
			Email:    form.Email,
			FullName: form.FullName,
		})
		return
	}

	if out.ConfirmationPending {
		s.render(c, http.StatusOK, "signup.html", page{
			Title:  "Sign up or log in",
			Tab:    tabLogIn,
			From:   from,
			Notice: "Check your email to confirm your account, then log in.",
			Email:  form.Email,
		})
		return
	}

	state := s.waitSignedIn(c, app, out.UserID)
	c.Redirect(http.StatusSeeOther, guard.AfterSignIn(state, from))
}

func (s *Server) logIn(c *gin.Context) {
	app := appFrom(c)
	from := guard.SafeFrom(c.PostForm(guard.FromParam))

	var form validation.SignInForm
	if err := c.ShouldBind(&form); err != nil {
		s.render(c, http.StatusBadRequest, "signup.html", page{Title: "Sign up or log in", Tab: tabLogIn, From: from, Error: "Please fill in the form."})
		return
	}

	user, err := app.Service.SignIn(c.Request.Context(), form)
	if err != nil {
		s.render(c, http.StatusUnprocessableEntity, "signup.html", page{
			Title: "Sign up or log in",
			Tab:   tabLogIn,
			From:  from,
			Error: auth.Message(err),
			Email: form.Email,
		})
		return
	}

	state := s.waitSignedIn(c, app, user.ID)
	c.Redirect(http.StatusSeeOther, guard.AfterSignIn(state, from))
}

// waitSignedIn waits until the bootstrapper has installed userID and their
// profile, so the redirect can depend on the admin flag
func (s *Server) waitSignedIn(c *gin.Context, app *auth.App, userID string) session.State {
	ctx, cancel := context.WithTimeout(c.Request.Context(), signInWait)
	defer cancel()

	state, err := app.Store.WaitFor(ctx, func(st session.State) bool {
		return st.User != nil && st.User.ID == userID && !st.Loading
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("Profile not loaded before redirect")
	}
	return state
}

func (s *Server) logOut(c *gin.Context) {
	if err := appFrom(c).Service.SignOut(c.Request.Context()); err != nil {
		s.logger.Error().Err(err).Msg("Failed to sign out")
		s.render(c, http.StatusBadGateway, "dashboard.html", page{Title: "Dashboard", Error: auth.Message(err)})
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func (s *Server) resetPasswordPage(c *gin.Context) {
	s.render(c, http.StatusOK, "reset_password.html", page{Title: "Reset password"})
}

func (s *Server) resetPassword(c *gin.Context) {
	var form validation.ResetForm
	if err := c.ShouldBind(&form); err != nil {
		s.render(c, http.StatusBadRequest, "reset_password.html", page{Title: "Reset password", Error: "Please fill in the form."})
		return
	}

	if err := appFrom(c).Service.ResetPassword(c.Request.Context(), form); err != nil {
		s.render(c, http.StatusUnprocessableEntity, "reset_password.html", page{
			Title: "Reset password",
			Error: auth.Message(err),
			Email: form.Email,
		})
		return
	}

	s.render(c, http.StatusOK, "reset_password.html", page{
		Title:  "Reset password",
		Notice: "If an account exists for that email, a reset link is on its way.",
	})
}

func (s *Server) dashboardPage(c *gin.Context) {
	s.render(c, http.StatusOK, "dashboard.html", page{Title: "Dashboard"})
}

func (s *Server) storePage(c *gin.Context) {
	s.render(c, http.StatusOK, "store.html", page{Title: "Store"})
}

func (s *Server) updateProfile(c *gin.Context) {
	name := c.PostForm("full_name")
	err := appFrom(c).Service.UpdateProfile(c.Request.Context(), auth.ProfileFields{FullName: &name})
	if err != nil {
		s.render(c, http.StatusUnprocessableEntity, "dashboard.html", page{Title: "Dashboard", Error: auth.Message(err)})
		return
	}
	c.Redirect(http.StatusSeeOther, guard.DashboardPath)
}

func (s *Server) updatePassword(c *gin.Context) {
	var form validation.PasswordForm
	if err := c.ShouldBind(&form); err != nil {
		s.render(c, http.StatusBadRequest, "dashboard.html", page{Title: "Dashboard", Error: "Please fill in the form."})
		return
	}

	if err := appFrom(c).Service.UpdatePassword(c.Request.Context(), form); err != nil {
		s.render(c, http.StatusUnprocessableEntity, "dashboard.html", page{Title: "Dashboard", Error: auth.Message(err)})
		return
	}
	s.render(c, http.StatusOK, "dashboard.html", page{Title: "Dashboard", Notice: "Your password was updated."})
}

func (s *Server) adminPage(c *gin.Context) {
	s.render(c, http.StatusOK, "admin.html", page{Title: "Admin", Sections: adminSections})
}

func (s *Server) adminSectionPage(c *gin.Context) {
	section := c.Param("section")
	for _, known := range adminSections {
		if section == known {
			s.render(c, http.StatusOK, "admin.html", page{Title: "Admin", Section: section, Sections: adminSections})
			return
		}
	}
	c.Status(http.StatusNotFound)
}

// SessionResponse is the JSON view of the visitor's session
type SessionResponse struct {
	IsAuthenticated bool             `json:"isAuthenticated"`
	IsAdmin         bool             `json:"isAdmin"`
	Loading         bool             `json:"loading"`
	User            *session.User    `json:"user"`
	Profile         *session.Profile `json:"profile"`
}

func (s *Server) getSession(c *gin.Context) {
	state := visitorState(c)
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, SessionResponse{
		IsAuthenticated: state.IsAuthenticated(),
		IsAdmin:         state.IsAdmin(),
		Loading:         state.Loading,
		User:            state.User,
		Profile:         state.Profile,
	})
}
