package indicator

// Script text for every preset. Each body runs inside
// `def indicator(data):` where data is the frozen list of bars; the
// predeclared names are math, abs, point and ta.

const smaScript = `# Simple Moving Average (14)
# @type: overlay
period = 14
result = []
for i in range(period - 1, len(data)):
    total = 0.0
    for j in range(period):
        total += data[i - j].close
    result.append({"time": data[i].time, "value": total / period})
return result
`

const emaScript = `# Exponential Moving Average (14)
# @type: overlay
period = 14
k = 2 / (period + 1)
result = []
if len(data) == 0:
    return result
ema = data[0].close
for i in range(len(data)):
    ema = data[i].close * k + ema * (1 - k)
    if i >= period - 1:
        result.append({"time": data[i].time, "value": ema})
return result
`

const cohortSpreadScript = `# Child (5-17) vs Senior (17+) Oscillator
# @type: pane
# Positive = Younger Dominant, Negative = Older Dominant
return [{"time": d.time, "value": d.spread or 0.0} for d in data]
`

const familyMigrationScript = `# Demographic Family Migration Index
# @type: pane
# High = Family relocation, Low = Single labor movement
return [{"time": d.time, "value": d.migration or 0.0} for d in data]
`

const youthDependencyScript = `# Ratio of Dependent Enrolments to Adult Enrolments
# @type: pane
return [{"time": d.time, "value": d.youth or 0.0} for d in data]
`

const biometricDebtScript = `# Predicted future mandatory update workload
# @type: pane
return [{"time": d.time, "value": d.workload or 0.0} for d in data]
`

const cointegrationScript = `# Are enrolments (t-4) and biometric updates (t) tied together?
# @type: pane
# High residual = the leash snapped
lag = 4
result = []
for i in range(lag, len(data)):
    y = data[i].raw_bio or data[i].volume or 0.0
    x = data[i - lag].raw_enrol or data[i - lag].volume or 0.0
    result.append({"time": data[i].time, "value": abs(y - x)})
return result
`

const hawkesScript = `# Viral coefficient (self-excitation)
# @type: pane
window = 5
result = []
for i in range(window, len(data)):
    v_t = abs(data[i].close)
    v_prev = abs(data[i - 1].close)
    alpha = min(1.5, v_t / v_prev) if v_t > 0 and v_prev > 0 else 0.0
    result.append({"time": data[i].time, "value": alpha})
return result
`

const hurstScript = `# Hurst exponent: H > 0.5 trending, H < 0.5 mean reverting
# @type: pane
window = 10
result = []
for i in range(window, len(data)):
    subset = [abs(d.close) for d in data[i - window:i]]
    mean = 0.0
    for v in subset:
        mean += v
    mean = mean / window
    ss = 0.0
    for v in subset:
        ss += (v - mean) * (v - mean)
    stdev = math.sqrt(ss / window)
    r = max(subset) - min(subset)
    h = 0.5
    if stdev > 0 and r > 0:
        h = math.log(r / stdev) / math.log(window)
    result.append({"time": data[i].time, "value": max(0.0, min(1.0, h))})
return result
`

const entropyScript = `# Shannon entropy: high = chaos, low = predictable
# @type: pane
result = []
for d in data:
    v1 = abs(d.open) + 0.001
    v2 = abs(d.close) + 0.001
    total = v1 + v2
    p1 = v1 / total
    p2 = v2 / total
    e = -(p1 * math.log(p1, 2) + p2 * math.log(p2, 2))
    result.append({"time": d.time, "value": e})
return result
`

const velocityAccelerationScript = `# Second derivative of identity volume
# @type: pane
result = []
for i in range(1, len(data)):
    result.append({"time": data[i].time, "value": data[i].close - data[i - 1].close})
return result
`

const pearsonScript = `# Rolling Pearson r (lagged enrolment vs biometric)
# @type: pane
window = 6
lag = 4
result = []
for i in range(window + lag, len(data)):
    xs = [d.raw_enrol or d.volume for d in data[i - window - lag:i - lag]]
    ys = [d.raw_bio or d.volume for d in data[i - window:i]]
    mean_x = 0.0
    mean_y = 0.0
    for j in range(window):
        mean_x += xs[j]
        mean_y += ys[j]
    mean_x = mean_x / window
    mean_y = mean_y / window
    num = 0.0
    den_x = 0.0
    den_y = 0.0
    for j in range(window):
        dx = xs[j] - mean_x
        dy = ys[j] - mean_y
        num += dx * dy
        den_x += dx * dx
        den_y += dy * dy
    r = num / math.sqrt(den_x * den_y) if den_x > 0 and den_y > 0 else 0.0
    result.append({"time": data[i].time, "value": r})
return result
`

const benfordScript = `# Do the counts follow Benford's leading digit distribution?
# @type: pane
# Output: higher = more artificial (MAD score)
benford = [0, 0.301, 0.176, 0.125, 0.097, 0.079, 0.067, 0.058, 0.051, 0.046]
window = 12
result = []
for i in range(window, len(data)):
    counts = [0] * 10
    for d in data[i - window:i]:
        v = d.volume or 0.0
        if v >= 1 or (v > 0 and v < 0.000001):
            c = str(v)[0]
            if c in "123456789":
                counts[int(c)] += 1
    mad = 0.0
    for k in range(1, 10):
        mad += abs(counts[k] / window - benford[k])
    result.append({"time": data[i].time, "value": mad / 9})
return result
`

const residualScript = `# Time-series decomposition residuals
# @type: pane
window = 4  # monthly seasonality approx
result = []
for i in range(window, len(data)):
    trend = 0.0
    for d in data[i - window:i]:
        trend += d.close
    trend = trend / window
    result.append({"time": data[i].time, "value": data[i].close - trend})
return result
`

const lorentzianScript = `# Lorentzian KNN classification
# @type: pane
# Features: spread, migration, youth ratio, normalised close
# Output: + = accelerate, - = decelerate
neighbors_count = 8
max_bars_back = min(50, len(data) - 5)
if len(data) < 5:
    return []

closes = [d.close for d in data]
min_close = min(closes)
max_close = max(closes)

def normalize(v):
    if max_close == min_close:
        return 50.0
    return (v - min_close) / (max_close - min_close) * 100

def features(d):
    return [(d.spread or 0.0) * 100, (d.migration or 0.0) * 100, (d.youth or 0.0) * 10, normalize(d.close)]

def distance(a, b):
    return (math.log(1 + abs(a[0] - b[0])) + math.log(1 + abs(a[1] - b[1])) +
            math.log(1 + abs(a[2] - b[2])) + math.log(1 + abs(a[3] - b[3])))

labels = []
for i in range(len(data) - 4):
    future = data[i + 4].close
    current = data[i].close
    if future > current * 1.01:
        labels.append(1)
    elif future < current * 0.99:
        labels.append(-1)
    else:
        labels.append(0)
labels.extend([0, 0, 0, 0])

vectors = [features(d) for d in data]
evict_at = int(math.round(neighbors_count * 0.75))
result = []
for bar in range(max_bars_back, len(data)):
    current = vectors[bar]
    distances = []
    predictions = []
    last = -1.0
    for i in range(max_bars_back - 1):
        hist = bar - 1 - i
        if hist < 0:
            continue
        d = distance(current, vectors[hist])
        if d >= last and i % 4 == 0:
            last = d
            distances.append(d)
            predictions.append(labels[hist])
            if len(predictions) > neighbors_count:
                last = distances[evict_at]
                distances.pop(0)
                predictions.pop(0)
    total = 0
    for p in predictions:
        total += p
    result.append({"time": data[bar].time, "value": total})
return result
`
