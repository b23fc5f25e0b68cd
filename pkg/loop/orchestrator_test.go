// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package loop

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyTask(t *testing.T) {
	require.Equal(t, ClassBugfix, ClassifyTask("fix the crash in the parser"))
	require.Equal(t, ClassRefactor, ClassifyTask("refactor the config loader"))
	require.Equal(t, ClassFeature, ClassifyTask("add support for YAML config"))
	require.Equal(t, ClassGeneral, ClassifyTask("look into the thing"))
}

func TestClassifyTaskPrefersBugfixOverFeatureWording(t *testing.T) {
	require.Equal(t, ClassBugfix, ClassifyTask("fix the bug in the new search feature"))
}

func TestPlanForPhaseCounts(t *testing.T) {
	require.Len(t, planFor(ClassBugfix), 3)
	require.Equal(t, 2, planFor(ClassBugfix)[0].Parallel)
	require.Len(t, planFor(ClassFeature), 3)
	require.Equal(t, 3, planFor(ClassFeature)[0].Parallel)
	require.Len(t, planFor(ClassGeneral), 2)
	require.Equal(t, 1, planFor(ClassGeneral)[0].Parallel)
}

func TestTemplateByName(t *testing.T) {
	tmpl, ok := TemplateByName(TemplateExplorer)
	require.True(t, ok)
	require.Contains(t, tmpl.objective("the auth module"), "the auth module")

	_, ok = TemplateByName("nonexistent")
	require.False(t, ok)
}
