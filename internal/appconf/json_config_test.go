package appconf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navieta.dev/internal/models"
)

func TestLoadFromFile_Valid(t *testing.T) {
	t.Setenv(KakaoAPIKeyEnv, "")

	cfg, err := LoadFromFile("../../testdata/config_valid.json")
	require.NoError(t, err)

	appCfg := cfg.ToAppConfig()
	assert.Equal(t, 3000, appCfg.Port)
	assert.Equal(t, Development, appCfg.Env)
	assert.Equal(t, []string{"test"}, appCfg.ApiKeys)
	assert.Equal(t, 100, appCfg.RateLimit)
	assert.True(t, appCfg.Verbose)
	assert.Equal(t, DefaultTimezone, appCfg.Location.String())

	naviCfg := cfg.ToNaviConfig()
	assert.Equal(t, "file-key", naviCfg.KakaoAPIKey)
	assert.Equal(t, DefaultMaxDailyCalls, naviCfg.MaxDailyCalls)
	assert.Equal(t, 10*time.Minute, naviCfg.UpdateInterval)
	assert.Equal(t, 60*time.Minute, naviCfg.FutureUpdateInterval)
	assert.Equal(t, float64(DefaultRequestsPerSecond), naviCfg.RequestsPerSecond)

	routes, err := cfg.ToRouteConfigs()
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, models.PriorityRecommend, routes[0].Priority)
	assert.Equal(t, 10*time.Minute, routes[0].UpdateInterval)
	assert.Equal(t, 60*time.Minute, routes[0].FutureUpdateInterval)
}

func TestLoadFromFile_Full(t *testing.T) {
	t.Setenv(KakaoAPIKeyEnv, "")

	cfg, err := LoadFromFile("../../testdata/config_full.json")
	require.NoError(t, err)

	appCfg := cfg.ToAppConfig()
	assert.Equal(t, 8080, appCfg.Port)
	assert.Equal(t, Production, appCfg.Env)
	assert.Equal(t, []string{"key1", "key2", "key3"}, appCfg.ApiKeys)
	assert.Equal(t, 50, appCfg.RateLimit)

	naviCfg := cfg.ToNaviConfig()
	assert.Equal(t, 3000, naviCfg.MaxDailyCalls)
	assert.Equal(t, float64(5), naviCfg.RequestsPerSecond)
	assert.Equal(t, "/data/navieta.db", naviCfg.DataPath)

	routes, err := cfg.ToRouteConfigs()
	require.NoError(t, err)
	require.Len(t, routes, 2)

	assert.Equal(t, models.RouteConfig{
		Name:                 "commute",
		Start:                "Pangyo Station",
		End:                  "Gangnam Station",
		Waypoint:             "Yangjae",
		Priority:             models.PriorityTime,
		UpdateInterval:       15 * time.Minute,
		FutureUpdateInterval: 90 * time.Minute,
	}, routes[0])
	assert.Equal(t, models.PriorityDistance, routes[1].Priority)
	assert.Equal(t, 5*time.Minute, routes[1].UpdateInterval)
	assert.Equal(t, 30*time.Minute, routes[1].FutureUpdateInterval)
}

func TestLoadFromFile_EnvOverridesKey(t *testing.T) {
	t.Setenv(KakaoAPIKeyEnv, "env-key")

	cfg, err := LoadFromFile("../../testdata/config_valid.json")
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.ToNaviConfig().KakaoAPIKey)
}

func TestLoadFromFile_Errors(t *testing.T) {
	t.Setenv(KakaoAPIKeyEnv, "")

	t.Run("invalid configuration", func(t *testing.T) {
		cfg, err := LoadFromFile("../../testdata/config_invalid.json")
		assert.Nil(t, cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "Port")
		assert.Contains(t, err.Error(), "Env")
		assert.Contains(t, err.Error(), "End")
		assert.Contains(t, err.Error(), "FASTEST")
	})

	t.Run("duplicate routes", func(t *testing.T) {
		cfg, err := LoadFromFile("../../testdata/config_duplicate_routes.json")
		assert.Nil(t, cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `route "dup": duplicate name`)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		cfg, err := LoadFromFile("../../testdata/config_malformed.json")
		assert.Nil(t, cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse JSON config")
	})

	t.Run("nonexistent file", func(t *testing.T) {
		cfg, err := LoadFromFile("../../testdata/nonexistent.json")
		assert.Nil(t, cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to stat config file")
	})
}

func TestValidate_RequiresKeyOutsideTest(t *testing.T) {
	cfg := &JSONConfig{Env: "production"}
	cfg.setDefaults()

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kakao-api-key is required")

	cfg.Env = "test"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_UnknownTimezone(t *testing.T) {
	cfg := &JSONConfig{Env: "test", Timezone: "Mars/Olympus_Mons"}
	cfg.setDefaults()

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown timezone")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("NAVIETA_DOTENV_TEST=loaded\n"), 0o600))
	t.Setenv("NAVIETA_DOTENV_TEST", "")
	require.NoError(t, os.Unsetenv("NAVIETA_DOTENV_TEST"))

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "loaded", os.Getenv("NAVIETA_DOTENV_TEST"))
}

func TestEnvFlagToEnvironment(t *testing.T) {
	assert.Equal(t, Production, EnvFlagToEnvironment("production"))
	assert.Equal(t, Production, EnvFlagToEnvironment("PROD"))
	assert.Equal(t, Test, EnvFlagToEnvironment("test"))
	assert.Equal(t, Development, EnvFlagToEnvironment("development"))
	assert.Equal(t, Development, EnvFlagToEnvironment("anything"))
	assert.Equal(t, "production", Production.String())
}
