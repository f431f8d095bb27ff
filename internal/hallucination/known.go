package hallucination

// builtinKnown are widely used packages per ecosystem. A registry miss
// that closely resembles one of these is reported as a possible
// typosquat.
var builtinKnown = map[Ecosystem][]string{
	EcosystemGo: {
		"github.com/spf13/cobra", "github.com/spf13/viper", "github.com/spf13/pflag",
		"github.com/stretchr/testify", "github.com/google/uuid", "github.com/google/go-cmp",
		"github.com/gin-gonic/gin", "github.com/gorilla/mux", "github.com/gorilla/websocket",
		"github.com/labstack/echo", "github.com/go-chi/chi", "github.com/gofiber/fiber",
		"github.com/sirupsen/logrus", "github.com/rs/zerolog", "go.uber.org/zap",
		"github.com/pkg/errors", "github.com/hashicorp/go-multierror", "github.com/jackc/pgx",
		"github.com/lib/pq", "github.com/go-sql-driver/mysql", "github.com/mattn/go-sqlite3",
		"gorm.io/gorm", "github.com/redis/go-redis", "github.com/go-redis/redis",
		"google.golang.org/grpc", "google.golang.org/protobuf", "github.com/golang/protobuf",
		"github.com/prometheus/client_golang", "go.opentelemetry.io/otel",
		"github.com/aws/aws-sdk-go", "github.com/aws/aws-sdk-go-v2", "cloud.google.com/go",
		"github.com/go-playground/validator", "github.com/golang-jwt/jwt", "github.com/joho/godotenv",
		"gopkg.in/yaml.v3", "gopkg.in/yaml.v2", "github.com/BurntSushi/toml",
		"github.com/fsnotify/fsnotify", "github.com/go-git/go-git", "golang.org/x/sync",
		"golang.org/x/mod", "golang.org/x/net", "golang.org/x/text", "golang.org/x/crypto",
		"golang.org/x/time", "golang.org/x/tools", "modernc.org/sqlite", "github.com/urfave/cli",
		"github.com/charmbracelet/bubbletea", "github.com/charmbracelet/lipgloss",
	},
	EcosystemPyPI: {
		"requests", "numpy", "pandas", "scipy", "matplotlib", "flask", "django", "fastapi",
		"pydantic", "sqlalchemy", "pytest", "boto3", "botocore", "urllib3", "certifi",
		"setuptools", "six", "python-dateutil", "pyyaml", "jinja2", "click", "rich",
		"httpx", "aiohttp", "uvicorn", "gunicorn", "celery", "redis", "psycopg2",
		"pymongo", "beautifulsoup4", "lxml", "pillow", "scikit-learn", "tensorflow",
		"torch", "transformers", "openai", "anthropic", "langchain", "cryptography",
		"paramiko", "pyjwt", "marshmallow", "attrs", "typer", "tqdm", "colorama",
		"packaging", "docker", "kubernetes", "grpcio", "protobuf", "selenium",
		"playwright", "black", "mypy", "ruff", "tenacity", "orjson",
	},
	EcosystemNPM: {
		"react", "react-dom", "vue", "angular", "express", "lodash", "axios", "moment",
		"dayjs", "typescript", "webpack", "vite", "rollup", "esbuild", "babel-core",
		"jest", "mocha", "chai", "vitest", "eslint", "prettier", "next", "nuxt",
		"svelte", "redux", "zustand", "mongoose", "sequelize", "prisma", "pg",
		"mysql2", "redis", "ioredis", "socket.io", "ws", "dotenv", "chalk", "commander",
		"yargs", "inquirer", "uuid", "jsonwebtoken", "bcrypt", "cors", "helmet",
		"body-parser", "nodemon", "rxjs", "zod", "yup", "graphql", "apollo-server",
		"tailwindcss", "postcss", "node-fetch", "cross-env", "debug", "fs-extra",
		"glob", "semver", "@types/node", "@types/react",
	},
}
