package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/arisehq/live-monitor/api"
	"github.com/arisehq/live-monitor/backend"
	"github.com/arisehq/live-monitor/db"
	"github.com/arisehq/live-monitor/monitor"
	"github.com/arisehq/live-monitor/state"
	"github.com/arisehq/live-monitor/types"
)

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	baseURL := getenv("ARISE_BASE_URL", "http://localhost:5000")
	listenAddr := getenv("LISTEN_ADDR", "127.0.0.1:8080")
	statePath := getenv("STATE_FILE", "monitor-state.json")

	client := backend.NewClient(baseURL)
	store := state.NewStore(statePath)

	opts := monitor.Options{Store: store}

	// Optional Postgres archive of poll samples
	if os.Getenv("DB_HOST") != "" {
		archive, err := db.Open()
		if err != nil {
			log.Fatalf("Failed to initialize sample archive: %v", err)
		}
		defer archive.Close()
		opts.Archive = archive
	}

	mon := monitor.New(client, opts)

	persisted, err := store.Load()
	if err != nil {
		log.Printf("Warning: could not read resume state, starting fresh: %v", err)
	}

	// Rejoin an in-progress session if one was persisted, otherwise
	// log in and start a new one.
	resumed := false
	if persisted != nil && persisted.SessionID != 0 {
		if err := mon.Resume(persisted); err != nil {
			log.Printf("Could not resume persisted session: %v", err)
		} else {
			resumed = true
		}
	}

	if !resumed {
		if err := startNewSession(client, store, mon); err != nil {
			log.Fatalf("Failed to start session: %v", err)
		}
	}

	// Serve the local dashboard API
	router := api.NewRouter(mon, store)
	go func() {
		log.Printf("Starting dashboard API on %s", listenAddr)
		if err := http.ListenAndServe(listenAddr, router); err != nil {
			log.Fatalf("Failed to start dashboard API: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	mon.Stop()
	log.Println("Live monitor stopped")
}

func startNewSession(client *backend.Client, store *state.Store, mon *monitor.Monitor) error {
	courseCode := os.Getenv("ARISE_COURSE_CODE")
	pin := os.Getenv("ARISE_PIN")
	if courseCode == "" || pin == "" {
		log.Fatal("No resumable session; set ARISE_COURSE_CODE and ARISE_PIN to start a new one")
	}

	login, err := client.Login(courseCode, pin)
	if err != nil {
		return err
	}
	log.Printf("Logged in to %s (%s)", login.CourseName, courseCode)

	duration := login.DefaultDuration
	if v := os.Getenv("SESSION_DURATION_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			duration = n
		}
	}

	started, err := client.StartSession(types.StartSessionRequest{
		CourseID:        login.CourseID,
		StartDatetime:   time.Now().Format(time.RFC3339),
		DurationMinutes: duration,
		SessionType:     getenv("SESSION_TYPE", "offline"),
		Topic:           os.Getenv("SESSION_TOPIC"),
	})
	if err != nil {
		return err
	}

	endTime, err := types.ParseServerTime(started.EndTime)
	if err != nil {
		return err
	}

	err = store.Save(&state.Persisted{
		CourseID:          login.CourseID,
		CourseName:        login.CourseName,
		CourseCode:        courseCode,
		SessionID:         started.SessionID,
		CurrentTab:        "home",
		CurrentHomeScreen: "live",
		IsLoggedIn:        true,
		EndTime:           endTime.Format(time.RFC3339),
		ClientID:          uuid.NewString(),
	})
	if err != nil {
		log.Printf("Warning: could not save resume state: %v", err)
	}

	mon.Start(types.SessionHandle{
		CourseID:  login.CourseID,
		SessionID: started.SessionID,
		EndTime:   endTime,
		Active:    true,
	}, types.Roster(started.Students))

	return nil
}
