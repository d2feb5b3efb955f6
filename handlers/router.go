package handlers

import (
	"net/http"

	"zmforum/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func SetupRouter(app App) *chi.Mux {
	mux := chi.NewRouter()

	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(NewStructuredLogger(app.Logger()))
	mux.Use(middleware.Recoverer)
	mux.Use(SecurityHeaders)
	mux.Use(Authenticate(app))

	// Locally stored media
	mux.Handle("/media/*", http.StripPrefix("/media/", http.FileServer(http.Dir(app.MediaDir()))))

	mux.Route("/forum", func(r chi.Router) {
		// Public reads
		r.Get("/sections", MakeHandler(app, HandleListSections))
		r.Get("/topics", MakeHandler(app, HandleListTopics))
		r.Get("/topics/{topicID}", MakeHandler(app, HandleGetTopic))
		r.Get("/replies/{topicID}", MakeHandler(app, HandleListReplies))

		// Authenticated content mutations
		r.Group(func(r chi.Router) {
			r.Use(RequireAuth(app))
			r.Post("/topics", MakeHandler(app, HandleCreateTopic))
			r.Patch("/topics/{topicID}", MakeHandler(app, HandleEditTopic))
			r.Delete("/topics/{topicID}", MakeHandler(app, HandleDeleteTopic))
			r.Post("/replies", MakeHandler(app, HandleCreateReply))
			r.Delete("/replies/{replyID}", MakeHandler(app, HandleDeleteReply))
			r.Post("/media", MakeHandler(app, HandleUploadMedia))
		})

		// Moderation state
		r.Group(func(r chi.Router) {
			r.Use(RequireRole(app, models.RoleModerator))
			r.Patch("/topics/{topicID}/pin", MakeHandler(app, HandleTogglePin))
			r.Patch("/topics/{topicID}/lock", MakeHandler(app, HandleToggleLock))
			r.Patch("/topics/{topicID}/tag", MakeHandler(app, HandleSetTag))
		})

		// Structure administration
		r.Group(func(r chi.Router) {
			r.Use(RequireRole(app, models.RoleAdmin))
			r.Post("/sections", MakeHandler(app, HandleCreateSection))
			r.Delete("/sections/{sectionID}", MakeHandler(app, HandleDeleteSection))
			r.Post("/categories", MakeHandler(app, HandleCreateCategory))
			r.Delete("/categories/{categoryID}", MakeHandler(app, HandleDeleteCategory))
		})
	})

	mux.Route("/notifications", func(r chi.Router) {
		r.Use(RequireAuth(app))
		r.Get("/", MakeHandler(app, HandleListNotifications))
		r.Patch("/{notificationID}/read", MakeHandler(app, HandleMarkNotificationRead))
		r.Delete("/{notificationID}", MakeHandler(app, HandleDeleteNotification))
	})

	mux.Route("/admin-applications", func(r chi.Router) {
		r.With(RequireAuth(app)).Post("/", MakeHandler(app, HandleCreateApplication))
		r.Group(func(r chi.Router) {
			r.Use(RequireRole(app, models.RoleAdmin))
			r.Get("/", MakeHandler(app, HandleListApplications))
			r.Patch("/{applicationID}", MakeHandler(app, HandleDecideApplication))
			r.Delete("/{applicationID}", MakeHandler(app, HandleDeleteApplication))
			r.Delete("/bulk/old", MakeHandler(app, HandlePurgeApplications))
		})
	})

	mux.Route("/admin", func(r chi.Router) {
		r.Use(RequireRole(app, models.RoleAdmin))
		r.Get("/log", MakeHandler(app, HandleModLog))
		r.With(RequireRole(app, models.RoleOwner)).Post("/backup", MakeHandler(app, HandleDatabaseBackup))
	})

	return mux
}
